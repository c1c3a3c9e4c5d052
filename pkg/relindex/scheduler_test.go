/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Alisher Nurmanov
 */

package relindex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voedger/virel/pkg/coreutils"
)

type recordingReindexer struct {
	mu   sync.Mutex
	runs int
}

func (r *recordingReindexer) FullReindex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	return nil
}

func (r *recordingReindexer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func TestScheduler_TriggersFullReindex(t *testing.T) {
	require := require.New(t)
	reindexer := &recordingReindexer{}
	s, err := NewScheduler(reindexer, coreutils.MockTime, "* * * * *")
	require.NoError(err)
	require.NoError(s.Prepare())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	for reindexer.count() == 0 {
		coreutils.MockTime.FireNextTimerImmediately()
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	require.GreaterOrEqual(reindexer.count(), 1)
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	require := require.New(t)
	_, err := NewScheduler(&recordingReindexer{}, coreutils.MockTime, "every other tuesday")
	require.Error(err)
}
