// package timequeue runs tasks at the absolute times they ask for:
// each invocation returns the time of its own next invocation,
// so every task controls its own cadence.
package timequeue

import (
	"context"
	"time"

	"github.com/gridwire/gridwire/logger"
)

// A Task is invoked once its due time has passed.
// It returns the absolute time of its next invocation, or reschedule ==
// false to leave the runner. Tasks must observe ctx and return promptly
// once it is done; the runner does not preempt them.
type Task interface {
	Name() string
	RunOnce(ctx context.Context, now time.Time) (nextDue time.Time, reschedule bool)
}

type Event interface{}

type TaskFinishedEvent struct {
	Name       string
	Start      time.Time
	Finish     time.Time
	NextDue    time.Time
	Reschedule bool
}

type RunnerIdleEvent struct {
	SleepUntil time.Time
}

type RunnerFinishedEvent struct{}

type taskMeta struct {
	task       Task
	name       string
	dueAt      time.Time
	lastStart  time.Time
	nextDue    time.Time
	reschedule bool
}

type Runner struct {
	log              logger.Logger
	notificationChan chan<- Event
	newTaskChan      chan taskMeta
	finishedChan     chan taskMeta
	scheduleTimer    <-chan time.Time
	pending          map[string]taskMeta
	running          map[string]taskMeta
}

func NewRunner(log logger.Logger) *Runner {
	return &Runner{
		log:          log,
		newTaskChan:  make(chan taskMeta),
		finishedChan: make(chan taskMeta),
		pending:      make(map[string]taskMeta),
		running:      make(map[string]taskMeta),
	}
}

// Schedule hands t to the runner, first invocation no earlier than dueAt.
// Safe to call before and while Run is executing.
// Task names must be unique among the tasks currently in the runner.
func (r *Runner) Schedule(t Task, dueAt time.Time) {
	go func() {
		r.newTaskChan <- taskMeta{task: t, name: t.Name(), dueAt: dueAt}
	}()
}

// SetNotificationChannel subscribes c to runner events.
// Must be called before Run. The runner blocks on c.
func (r *Runner) SetNotificationChannel(c chan<- Event) {
	r.notificationChan = c
}

func (r *Runner) postEvent(e Event) {
	if r.notificationChan != nil {
		r.notificationChan <- e
	}
}

// Run executes tasks until ctx is done, then waits for running tasks to
// come back and returns. Tasks scheduled while draining are discarded.
func (r *Runner) Run(ctx context.Context) {

loop:
	select {

	case <-ctx.Done():
		r.log.WithError(ctx.Err()).Debug("draining runner")
		for len(r.running) > 0 {
			fin := <-r.finishedChan
			delete(r.running, fin.name)
		}
		r.postEvent(RunnerFinishedEvent{})
		return

	case tm := <-r.newTaskChan:

		_, taskPending := r.pending[tm.name]
		_, taskRunning := r.running[tm.name]
		if taskPending || taskRunning {
			panic("task already in runner: " + tm.name)
		}
		r.pending[tm.name] = tm

	case fin := <-r.finishedChan:

		delete(r.running, fin.name)
		r.postEvent(TaskFinishedEvent{
			Name:       fin.name,
			Start:      fin.lastStart,
			Finish:     time.Now(),
			NextDue:    fin.nextDue,
			Reschedule: fin.reschedule,
		})
		if fin.reschedule {
			fin.dueAt = fin.nextDue
			r.pending[fin.name] = fin
		} else {
			r.log.WithField("task", fin.name).Debug("task left the runner")
		}

	case <-r.scheduleTimer:
	}

	// find tasks that are due
	now := time.Now()
	taskPending := false
	nextTaskDue := now.Add(time.Minute) // capped re-check interval

	for name, tm := range r.pending {

		if tm.dueAt.After(now) {
			if tm.dueAt.Before(nextTaskDue) {
				nextTaskDue = tm.dueAt
			}
			taskPending = true
			continue
		}

		delete(r.pending, name)
		r.running[name] = tm
		tm.lastStart = now

		go func(tm taskMeta) {
			tm.nextDue, tm.reschedule = tm.task.RunOnce(ctx, time.Now())
			r.finishedChan <- tm
		}(tm)

	}

	if taskPending {
		r.postEvent(RunnerIdleEvent{SleepUntil: nextTaskDue})
		r.scheduleTimer = time.After(nextTaskDue.Sub(now))
	} else {
		// nothing scheduled, block until a task arrives or comes back
		r.scheduleTimer = nil
	}
	goto loop
}
