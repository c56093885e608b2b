// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/canonical/sqlrec/internal/pool"
)

// QueryStats holds statement execution counters.
type QueryStats struct {
	Queries  atomic.Int64
	Execs    atomic.Int64
	Retries  atomic.Int64
	Slow     atomic.Int64
	Errors   atomic.Int64
	Duration atomic.Int64 // nanoseconds
}

func (s *QueryStats) record(read bool, d time.Duration, slow bool, err error) {
	if read {
		s.Queries.Add(1)
	} else {
		s.Execs.Add(1)
	}
	s.Duration.Add(int64(d))
	if slow {
		s.Slow.Add(1)
	}
	if err != nil {
		s.Errors.Add(1)
	}
}

// Snapshot returns the current values of the counters.
func (s *QueryStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:  s.Queries.Load(),
		Execs:    s.Execs.Load(),
		Retries:  s.Retries.Load(),
		Slow:     s.Slow.Load(),
		Errors:   s.Errors.Load(),
		Duration: time.Duration(s.Duration.Load()),
	}
}

// StatsSnapshot is a point-in-time copy of the statistics of a DB.
type StatsSnapshot struct {
	Queries  int64
	Execs    int64
	Retries  int64
	Slow     int64
	Errors   int64
	Duration time.Duration
	Pool     pool.Stats
}

// AvgDuration returns the mean statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.Queries + s.Execs
	if total == 0 {
		return 0
	}
	return s.Duration / time.Duration(total)
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d retries=%d slow=%d errors=%d avg=%s in_use=%d timeouts=%d dropped=%d",
		s.Queries, s.Execs, s.Retries, s.Slow, s.Errors, s.AvgDuration(),
		s.Pool.InUse, s.Pool.Timeouts, s.Pool.Dropped,
	)
}
