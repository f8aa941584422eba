package engine

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// everySchedule fires at a fixed delay after the previous activation.
//
// cron.Every rounds to whole seconds; links routinely run at sub-second
// intervals, so the delay is kept as-is.
type everySchedule struct {
	every time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.every)
}

// startupSpreadSchedule overrides the first run time, then delegates to base.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

// makeIntervalSchedule returns the schedule for a job and the random first-run
// delay applied to it. maxSpread <= 0 disables the spread.
func makeIntervalSchedule(every time.Duration, now time.Time, tag string, maxSpread time.Duration) (cron.Schedule, time.Duration) {
	base := everySchedule{every: every}
	spreadMax := every
	if spreadMax > maxSpread {
		spreadMax = maxSpread
	}
	if spreadMax <= 0 {
		return base, 0
	}

	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return &startupSpreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
