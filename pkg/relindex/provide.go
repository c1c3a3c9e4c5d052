/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package relindex

import (
	"github.com/voedger/virel/pkg/coreutils"
	"github.com/voedger/virel/pkg/iservices"
	"github.com/voedger/virel/pkg/skeleton"
)

// Provide wires the deferred-maintenance pipeline over registry: a
// reconciler, a dispatcher installed as the registry task queue, the queue
// worker and, with a non-empty cronSchedule, the full-reindex scheduler.
// The returned services are ready for iservices.IServicesController.
func Provide(registry *skeleton.Registry, iTime coreutils.ITime, cronSchedule string) (*Dispatcher, map[string]iservices.IService, error) {
	reconciler := New(registry)
	dispatcher := NewDispatcher(reconciler, iTime, DefaultQueueSize)
	registry.SetTaskQueue(dispatcher)
	services := map[string]iservices.IService{
		"RelationIndexWorker": NewService(dispatcher),
	}
	if cronSchedule != "" {
		scheduler, err := NewScheduler(reconciler, iTime, cronSchedule)
		if err != nil {
			return nil, nil, err
		}
		services["RelationIndexScheduler"] = scheduler
	}
	return dispatcher, services, nil
}
