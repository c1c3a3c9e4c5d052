/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Denis Gribanov
 */

package relindex

import (
	"context"
	"time"

	"github.com/untillpro/goutils/logger"

	"github.com/voedger/virel/pkg/coreutils"
	"github.com/voedger/virel/pkg/skeleton"
)

// Executor applies one deferred task. Implemented by Reconciler.
type Executor interface {
	Execute(ctx context.Context, task skeleton.Task) error
}

// Dispatcher is the deferred-task bus between transactional saves and the
// reconciler: a buffered channel drained by the worker Service. Enqueue
// never drops a task, a full channel degrades to synchronous execution in
// the enqueueing goroutine.
type Dispatcher struct {
	tasks      chan skeleton.Task
	executor   Executor
	iTime      coreutils.ITime
	retryDelay time.Duration
	retryCount int
}

func NewDispatcher(executor Executor, iTime coreutils.ITime, queueSize int) *Dispatcher {
	return &Dispatcher{
		tasks:      make(chan skeleton.Task, queueSize),
		executor:   executor,
		iTime:      iTime,
		retryDelay: DefaultRetryDelay,
		retryCount: DefaultRetryCount,
	}
}

// Enqueue hands the task to the worker, or executes it in place when the
// channel is full.
func (d *Dispatcher) Enqueue(task skeleton.Task) {
	select {
	case d.tasks <- task:
	default:
		d.execute(context.Background(), task)
	}
}

// execute runs the task with retries. A cancelled context is replaced, an
// accepted task must be attempted at least once. A task failing beyond the
// retry budget is logged and dropped, the scheduled full reindex repairs
// what it left behind.
func (d *Dispatcher) execute(ctx context.Context, task skeleton.Task) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	err := coreutils.Retry(ctx, d.iTime, d.retryDelay, d.retryCount, func() error {
		return d.executor.Execute(ctx, task)
	})
	if err != nil {
		logger.Error(task.Kind.String(), "task failed:", err.Error())
	}
}

// Service is the queue worker. Implements iservices.IService.
type Service struct {
	dispatcher *Dispatcher
}

func NewService(d *Dispatcher) *Service {
	return &Service{dispatcher: d}
}

func (s *Service) Prepare() error {
	return nil
}

// Run consumes tasks until the context is cancelled, then drains whatever is
// still queued, so every accepted task is executed at least once.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case task := <-s.dispatcher.tasks:
			s.dispatcher.execute(ctx, task)
		}
	}
}

func (s *Service) drain() {
	for {
		select {
		case task := <-s.dispatcher.tasks:
			s.dispatcher.execute(context.Background(), task)
		default:
			return
		}
	}
}
