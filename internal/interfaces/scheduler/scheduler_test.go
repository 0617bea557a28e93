package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ScheduleTime
		wantErr bool
	}{
		{input: "07:00", want: ScheduleTime{Hour: 7}},
		{input: "23:59", want: ScheduleTime{Hour: 23, Minute: 59}},
		{input: "0:05", want: ScheduleTime{Minute: 5}},
		{input: "24:00", wantErr: true},
		{input: "12:60", wantErr: true},
		{input: "noon", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewScheduler_RequiresTimes(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{ScheduleTimes: []string{"7am"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestScheduler_ShouldRun(t *testing.T) {
	nyc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := NewScheduler(SchedulerConfig{ScheduleTimes: []string{"08:00"}, Location: nyc}, zap.NewNop())
	require.NoError(t, err)

	// 12:00 UTC is 08:00 in New York during daylight saving time.
	at := time.Date(2024, 6, 7, 12, 0, 30, 0, time.UTC)
	assert.True(t, s.shouldRun(at))
	assert.False(t, s.shouldRun(at.Add(10*time.Second)), "same minute must not fire twice")
	assert.False(t, s.shouldRun(time.Date(2024, 6, 7, 8, 0, 0, 0, time.UTC)))
	assert.True(t, s.shouldRun(at.AddDate(0, 0, 1)))
}

func TestScheduler_NextRun(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{ScheduleTimes: []string{"18:00", "07:30"}}, zap.NewNop())
	require.NoError(t, err)

	now := time.Date(2024, 6, 7, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 7, 18, 0, 0, 0, time.UTC), s.NextRun(now))

	late := time.Date(2024, 6, 7, 19, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 8, 7, 30, 0, 0, time.UTC), s.NextRun(late))
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Execute(ctx context.Context) error { return j.fn(ctx) }
func (j funcJob) Name() string                      { return j.name }
func (j funcJob) Description() string               { return j.name }

func TestScheduler_TriggerNow(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	var ran atomic.Int32

	provider := func(ctx context.Context) ([]Job, error) {
		count := func(ctx context.Context) error {
			ran.Add(1)
			wg.Done()
			return nil
		}
		return []Job{funcJob{name: "a", fn: count}, funcJob{name: "b", fn: count}}, nil
	}

	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"03:00"},
		WorkerCount:   2,
		QueueSize:     4,
		JobProvider:   provider,
	}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	s.TriggerNow()
	wg.Wait()
	s.Shutdown(time.Second)

	assert.Equal(t, int32(2), ran.Load())
}

func TestScheduler_ProviderError(t *testing.T) {
	called := make(chan struct{})
	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"03:00"},
		QueueSize:     1,
		JobProvider: func(ctx context.Context) ([]Job, error) {
			close(called)
			return nil, errors.New("db down")
		},
	}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	s.TriggerNow()
	<-called
	s.Shutdown(time.Second)
}

func TestWorkerPool_SubmitQueueFull(t *testing.T) {
	wp := NewWorkerPool(1, 0, time.Second, 1, zap.NewNop())
	job := funcJob{name: "noop", fn: func(ctx context.Context) error { return nil }}

	require.NoError(t, wp.Submit(job))
	assert.Error(t, wp.Submit(job), "queue of one is full before workers start")
	assert.Equal(t, 0, wp.SubmitBatch([]Job{job}))

	wp.Start()
	wp.ShutdownWithTimeout(time.Second)
}

func TestWorkerPool_JobTimeout(t *testing.T) {
	wp := NewWorkerPool(1, 0, 20*time.Millisecond, 1, zap.NewNop())
	done := make(chan error, 1)
	require.NoError(t, wp.Submit(funcJob{name: "slow", fn: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}}))

	wp.Start()
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
	wp.ShutdownWithTimeout(time.Second)
}
