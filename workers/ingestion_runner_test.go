package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notblessy/cryptodash/cache"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/services"
)

type stubPipeline struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	last    services.RunOptions
}

func (p *stubPipeline) Run(ctx context.Context, opts services.RunOptions) (*models.RunReport, error) {
	p.calls.Add(1)
	p.last = opts
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return &models.RunReport{State: models.RunFailed}, ctx.Err()
		}
	}
	if p.err != nil {
		return &models.RunReport{State: models.RunFailed}, p.err
	}
	return &models.RunReport{State: models.RunDone}, nil
}

func TestIngestionRunner_SkipsOverlappingTrigger(t *testing.T) {
	p := &stubPipeline{release: make(chan struct{})}
	r := NewIngestionRunner(context.Background(), p, nil, models.WriteUpsertOverwrite, nil)

	assert.True(t, r.Trigger(false))
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, r.Running())
	assert.False(t, r.Trigger(false))

	close(p.release)
	r.Wait()

	assert.False(t, r.Running())
	assert.Equal(t, int32(1), p.calls.Load())
	require.NotNil(t, r.LastReport())
	assert.Equal(t, models.RunDone, r.LastReport().State)
	assert.Equal(t, models.WriteUpsertOverwrite, p.last.Mode)
	assert.False(t, p.last.CleanFirst)
}

func TestIngestionRunner_InvalidatesCacheOnSuccess(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(time.Hour)
	defer c.Close()
	require.NoError(t, c.Set(ctx, services.PriceCachePrefix+"q", []byte("[]"), time.Minute))
	require.NoError(t, c.Set(ctx, "other", []byte("x"), time.Minute))

	r := NewIngestionRunner(ctx, &stubPipeline{}, c, models.WriteInsertNewOnly, nil)
	report, err := r.RunNow(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, models.RunDone, report.State)

	_, err = c.Get(ctx, services.PriceCachePrefix+"q")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = c.Get(ctx, "other")
	assert.NoError(t, err)
}

func TestIngestionRunner_KeepsCacheOnFailure(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(time.Hour)
	defer c.Close()
	require.NoError(t, c.Set(ctx, services.PriceCachePrefix+"q", []byte("[]"), time.Minute))

	r := NewIngestionRunner(ctx, &stubPipeline{err: errors.New("boom")}, c, models.WriteUpsertOverwrite, nil)
	report, err := r.RunNow(ctx, false)
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, report.State)

	_, err = c.Get(ctx, services.PriceCachePrefix+"q")
	assert.NoError(t, err)
}

func TestIngestionRunner_RunNowWhileRunning(t *testing.T) {
	p := &stubPipeline{release: make(chan struct{})}
	r := NewIngestionRunner(context.Background(), p, nil, models.WriteUpsertOverwrite, nil)

	require.True(t, r.Trigger(false))
	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)

	_, err := r.RunNow(context.Background(), false)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(p.release)
	r.Wait()
}

func TestIngestionRunner_StopsWithBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &stubPipeline{release: make(chan struct{})}
	r := NewIngestionRunner(ctx, p, nil, models.WriteUpsertOverwrite, nil)

	require.True(t, r.Trigger(false))
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	r.Wait()

	assert.Equal(t, models.RunFailed, r.LastReport().State)
}

func TestIngestionRunner_StartTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &stubPipeline{}
	r := NewIngestionRunner(ctx, p, nil, models.WriteUpsertOverwrite, nil)

	done := make(chan struct{})
	go func() {
		r.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	r.Wait()
}
