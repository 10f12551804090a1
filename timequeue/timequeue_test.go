package timequeue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwire/gridwire/logger"
)

type cadenceTask struct {
	mtx            sync.Mutex
	interval       time.Duration
	maxInvocations int
	invocations    []time.Time
}

func (t *cadenceTask) Name() string { return "cadence" }

func (t *cadenceTask) RunOnce(ctx context.Context, now time.Time) (time.Time, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.invocations = append(t.invocations, now)
	if ctx.Err() != nil || len(t.invocations) >= t.maxInvocations {
		return time.Time{}, false
	}
	return now.Add(t.interval), true
}

func (t *cadenceTask) count() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.invocations)
}

func TestRunnerKeepsTaskCadence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(logger.NewTestLogger(t))
	events := make(chan Event, 1024)
	r.SetNotificationChannel(events)

	const interval = 30 * time.Millisecond
	task := &cadenceTask{interval: interval, maxInvocations: 20}
	r.Schedule(task, time.Now())

	runDone := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(runDone)
	}()

	pollBegin := time.Now()
	for task.count() < task.maxInvocations {
		if time.Since(pollBegin) > 10*time.Second {
			t.Fatalf("task only ran %d times", task.count())
		}
		time.Sleep(interval)
	}
	// the task returned reschedule == false, no further invocations may happen
	time.Sleep(5 * interval)
	require.Equal(t, task.maxInvocations, task.count())

	cancel()
	<-runDone
	close(events)

	finished := 0
	for ev := range events {
		if fin, ok := ev.(TaskFinishedEvent); ok {
			assert.Equal(t, "cadence", fin.Name)
			finished++
		}
	}
	assert.Equal(t, task.maxInvocations, finished)

	deltas := make([]float64, 0, len(task.invocations)-1)
	for i := 1; i < len(task.invocations); i++ {
		delta := task.invocations[i].Sub(task.invocations[i-1])
		// a task must never run before its own next-due time
		assert.True(t, delta >= interval, "delta %v < interval %v", delta, interval)
		deltas = append(deltas, delta.Seconds())
	}
	mean, _ := stats.Mean(deltas)
	t.Logf("mean inter-invocation delta: %v", mean)
	median, _ := stats.Median(deltas)
	t.Logf("median inter-invocation delta: %v", median)
	max, _ := stats.Max(deltas)
	t.Logf("max inter-invocation delta: %v", max)

	// generous bound, this is about gross scheduling bugs, not jitter
	assert.True(t, median < 3*interval.Seconds(), "median %v", median)
}

type haltObservingTask struct {
	interval time.Duration
	mtx      sync.Mutex
	runs     int
	halted   int
}

func (t *haltObservingTask) Name() string { return "haltobserver" }

func (t *haltObservingTask) RunOnce(ctx context.Context, now time.Time) (time.Time, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.runs++
	select {
	case <-ctx.Done():
		t.halted++
		return time.Time{}, false
	default:
	}
	return now.Add(t.interval), true
}

func TestRunnerHalt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRunner(logger.NewTestLogger(t))
	task := &haltObservingTask{interval: 10 * time.Millisecond}
	r.Schedule(task, time.Now())

	runDone := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(runDone)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not drain after halt")
	}

	task.mtx.Lock()
	runsAtHalt := task.runs
	task.mtx.Unlock()
	assert.True(t, runsAtHalt > 0)

	// no invocations after Run returned
	time.Sleep(50 * time.Millisecond)
	task.mtx.Lock()
	defer task.mtx.Unlock()
	assert.Equal(t, runsAtHalt, task.runs)
}
