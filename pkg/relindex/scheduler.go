/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Alisher Nurmanov
 */

package relindex

import (
	"context"
	"fmt"

	"github.com/aptible/supercronic/cronexpr"
	"github.com/untillpro/goutils/logger"

	"github.com/voedger/virel/pkg/coreutils"
)

// Reindexer runs one full relation-index rebuild sweep. Implemented by
// Reconciler.
type Reindexer interface {
	FullReindex(ctx context.Context) error
}

// Scheduler triggers a full reindex on a cron schedule, catching up the
// snapshots of UpdateLevel_OnRebuild bones and repairing rows left behind by
// dropped tasks. Implements iservices.IService.
type Scheduler struct {
	reindexer Reindexer
	iTime     coreutils.ITime
	expr      *cronexpr.Expression
}

func NewScheduler(reindexer Reindexer, iTime coreutils.ITime, cronSchedule string) (*Scheduler, error) {
	expr, err := cronexpr.Parse(cronSchedule)
	if err != nil {
		return nil, fmt.Errorf("wrong cron schedule «%s»: %w", cronSchedule, err)
	}
	return &Scheduler{reindexer: reindexer, iTime: iTime, expr: expr}, nil
}

func (s *Scheduler) Prepare() error {
	return nil
}

func (s *Scheduler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		now := s.iTime.Now()
		next := s.expr.Next(now)
		if next.IsZero() {
			logger.Error("cron schedule yields no next occurrence, full-reindex scheduling stops")
			return
		}
		timer := s.iTime.NewTimerChan(next.Sub(now))
		select {
		case <-ctx.Done():
			return
		case <-timer:
			if logger.IsVerbose() {
				logger.Verbose("full reindex started")
			}
			if err := s.reindexer.FullReindex(ctx); err != nil {
				logger.Error("full reindex failed:", err.Error())
			}
		}
	}
}
