// Package scheduler runs the periodic outcome sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/gheezy/signalengine/internal/tracker"
)

// SweepLister names the subjects whose pending signals a sweep covers.
type SweepLister interface {
	PendingSubjects(ctx context.Context) ([]int64, error)
}

// Scheduler drives outcome sweeps from a cron expression.
type Scheduler struct {
	cron    *cron.Cron
	tracker *tracker.Tracker
	lister  SweepLister
	ctx     context.Context
}

func New(ctx context.Context, trk *tracker.Tracker, lister SweepLister) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		tracker: trk,
		lister:  lister,
		ctx:     ctx,
	}
}

// Register installs the sweep at the given schedule, standard five-field
// cron syntax.
func (s *Scheduler) Register(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to register outcome sweep: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Msg("outcome sweep scheduler started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("outcome sweep scheduler stopped")
}

// RunNow triggers a sweep immediately, outside the schedule.
func (s *Scheduler) RunNow() {
	s.sweep()
}

func (s *Scheduler) sweep() {
	start := time.Now()
	subjects, err := s.lister.PendingSubjects(s.ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep could not list subjects")
		return
	}

	var total tracker.Summary
	for _, id := range subjects {
		summary, err := s.tracker.CheckPending(s.ctx, id, "")
		if err != nil {
			log.Error().Err(err).Int64("subject", id).Msg("sweep failed for subject")
			continue
		}
		total.Checked += summary.Checked
		total.Wins += summary.Wins
		total.Losses += summary.Losses
		total.StillPending += summary.StillPending
	}

	log.Info().
		Int("subjects", len(subjects)).
		Int("checked", total.Checked).
		Int("wins", total.Wins).
		Int("losses", total.Losses).
		Int("still_pending", total.StillPending).
		Dur("duration", time.Since(start)).
		Msg("scheduled outcome sweep finished")
}
