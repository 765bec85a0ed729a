package models

import "time"

// RunState is a step of an ingestion run.
type RunState string

const (
	RunIdle                  RunState = "idle"
	RunCleaningIfRequested   RunState = "cleaning"
	RunInitializingReference RunState = "initializing_reference"
	RunFetchingFine          RunState = "fetching_fine"
	RunFetchingCoarse        RunState = "fetching_coarse"
	RunDone                  RunState = "done"
	RunFailed                RunState = "failed"
)

// PairFailure records a coin/currency pair skipped during a run.
type PairFailure struct {
	CoinID       string `json:"coinId"`
	CurrencyCode string `json:"currencyCode"`
	Phase        string `json:"phase"`
	Error        string `json:"error"`
}

// RunReport summarizes an ingestion run.
type RunReport struct {
	State         RunState      `json:"state"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
	Cleaned       bool          `json:"cleaned"`
	PairsFetched  int           `json:"pairsFetched"`
	FailedPairs   []PairFailure `json:"failedPairs"`
	HourlyWritten int64         `json:"hourlyWritten"`
	DailyWritten  int64         `json:"dailyWritten"`
}
