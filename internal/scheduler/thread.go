// Package scheduler drives a periodic task whose tick reports how long to
// wait before it runs again.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is anything with a self-timed tick.
type Task interface {
	RunOnce() time.Duration
}

// Thread runs one Task on a single goroutine. Ticks never overlap.
type Thread struct {
	name string
	task Task
	kick chan struct{}
	log  *zap.SugaredLogger
}

// NewThread creates a Thread for task. Call Run to start it.
func NewThread(name string, task Task, log *zap.SugaredLogger) *Thread {
	return &Thread{
		name: name,
		task: task,
		kick: make(chan struct{}, 1),
		log:  log,
	}
}

// Kick asks the thread to run its next tick now instead of waiting out the
// current delay. Multiple kicks before the tick coalesce into one.
func (t *Thread) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Run ticks the task until ctx is done.
func (t *Thread) Run(ctx context.Context) {
	t.log.Debugf("thread %s started", t.name)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Debugf("thread %s stopped", t.name)
			return
		case <-t.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		delay := t.task.RunOnce()
		if delay <= 0 {
			delay = time.Millisecond
		}
		timer.Reset(delay)
	}
}
