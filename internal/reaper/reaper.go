package reaper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"examforge/internal/logger"
	"examforge/internal/models"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultThreshold = 7 * time.Minute
	defaultScanLimit = 200
)

type Store interface {
	GetSection(ctx context.Context, sectionID string) (models.Section, error)
	ReapStale(ctx context.Context, sectionID, attemptID string, cutoff time.Time, reason string) (bool, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Section, error)
}

// IsStale reports whether a generating section has shown no sign of life for
// longer than threshold. The later of heartbeat and start time counts.
func IsStale(sec models.Section, now time.Time, threshold time.Duration) bool {
	if sec.Status != models.StatusGenerating {
		return false
	}
	last := sec.LastSeen()
	return last == nil || now.Sub(*last) > threshold
}

type Result struct {
	SectionID string `json:"section_id"`
	Acted     bool   `json:"acted"`
}

type Summary struct {
	Scanned int `json:"scanned"`
	Reaped  int `json:"reaped"`
}

// Reaper reclaims runs whose worker went away. Calling it on a healthy run is
// a no-op, so it can be invoked as often as callers like.
type Reaper struct {
	store       Store
	threshold   time.Duration
	concurrency int
	now         func() time.Time
	log         *logger.Logger
}

func New(store Store, threshold time.Duration, concurrency int, log *logger.Logger) *Reaper {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reaper{
		store:       store,
		threshold:   threshold,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

func (r *Reaper) Threshold() time.Duration {
	return r.threshold
}

func (r *Reaper) Reap(ctx context.Context, sectionID string) (Result, error) {
	sec, err := r.store.GetSection(ctx, sectionID)
	if err != nil {
		return Result{}, fmt.Errorf("reap section: %w", err)
	}
	return r.reap(ctx, sec)
}

func (r *Reaper) reap(ctx context.Context, sec models.Section) (Result, error) {
	res := Result{SectionID: sec.SectionID}
	now := r.now()
	if !IsStale(sec, now, r.threshold) {
		return res, nil
	}
	reason := fmt.Sprintf("generation stalled with no activity for over %s and was reset; start it again", r.threshold)
	// the store re-checks status, attempt and staleness in the same write
	acted, err := r.store.ReapStale(ctx, sec.SectionID, sec.AttemptID, now.Add(-r.threshold), reason)
	if err != nil {
		return res, fmt.Errorf("reap section %s: %w", sec.SectionID, err)
	}
	res.Acted = acted
	if acted {
		r.log.Warn("stale generation reclaimed", "section_id", sec.SectionID, "attempt_id", sec.AttemptID, "last_seen", sec.LastSeen())
	}
	return res, nil
}

// ReapAll reclaims every stale section it finds, a few at a time.
func (r *Reaper) ReapAll(ctx context.Context) (Summary, error) {
	stale, err := r.store.ListStale(ctx, r.now().Add(-r.threshold), defaultScanLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("list stale sections: %w", err)
	}
	var reaped atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, sec := range stale {
		g.Go(func() error {
			res, err := r.reap(ctx, sec)
			if err != nil {
				return err
			}
			if res.Acted {
				reaped.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	sum := Summary{Scanned: len(stale), Reaped: int(reaped.Load())}
	r.log.Info("reaper sweep finished", "scanned", sum.Scanned, "reaped", sum.Reaped)
	return sum, err
}
