// ABOUTME: Periodic checkpoint scheduling, factored out of pkg/wal (which only exposes the mechanical Checkpoint call)
// ABOUTME: Background checkpoint scheduling via a cron expression (robfig/cron), since cadence is configured rather than fixed

package env

import (
	"github.com/robfig/cron/v3"
)

// CheckpointScheduler periodically calls Environment.Checkpoint on a cron
// schedule, logging (but not panicking on) checkpoint failures -- a failed
// checkpoint just means recovery has more log to replay next time, not data
// loss.
type CheckpointScheduler struct {
	env     *Environment
	cron    *cron.Cron
	entryID cron.EntryID
	onError func(error)
}

// NewCheckpointScheduler builds a scheduler that runs env.Checkpoint on the
// given cron spec (standard 5-field, e.g. "*/5 * * * *" for every five
// minutes). onError is called (if non-nil) whenever a scheduled checkpoint
// fails.
func NewCheckpointScheduler(e *Environment, spec string, onError func(error)) (*CheckpointScheduler, error) {
	s := &CheckpointScheduler{env: e, cron: cron.New(), onError: onError}
	id, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

func (s *CheckpointScheduler) runOnce() {
	if err := s.env.Checkpoint(); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// Start begins running the schedule in the background.
func (s *CheckpointScheduler) Start() { s.cron.Start() }

// Stop cancels the schedule and waits for any in-flight checkpoint to finish.
func (s *CheckpointScheduler) Stop() { <-s.cron.Stop().Done() }
