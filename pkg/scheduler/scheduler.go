// Package scheduler runs the relay's recurring MLS maintenance sweeps:
// expired KeyPackage and Welcome cleanup, and processing of pending
// deletions scheduled by the gateway (prune-down and last-resort).
package scheduler

import (
	"time"

	"github.com/cuemby/mls-relay/pkg/auxstore"
	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler owns the ticker loops that keep the auxiliary store's
// time-bound collections (KeyPackages, Welcomes, pending deletions) clean.
type Scheduler struct {
	aux    auxstore.Store
	cfg    config.MLSGatewayConfig
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewScheduler creates a scheduler over the given auxiliary store,
// configured by the MLS gateway's pruning and pooling settings.
func NewScheduler(aux auxstore.Store, cfg config.MLSGatewayConfig) *Scheduler {
	return &Scheduler{
		aux:    aux,
		cfg:    cfg,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the cleanup and pending-deletion loops.
func (s *Scheduler) Start() {
	go s.runCleanupLoop()
	go s.runPendingDeletionLoop()
}

// Stop stops both loops.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// runCleanupLoop sweeps expired KeyPackages and Welcomes on an hourly
// cadence, independent of any per-owner pending-deletion schedule.
func (s *Scheduler) runCleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanupOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runCleanupOnce() {
	now := time.Now().Unix()

	removedKP, err := s.aux.CleanupExpiredKeyPackages(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("expired KeyPackage sweep failed")
	} else if removedKP > 0 {
		s.logger.Info().Int("removed", removedKP).Msg("swept expired KeyPackages")
	}

	removedW, err := s.aux.DeleteExpiredWelcomes(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("expired welcome sweep failed")
	} else if removedW > 0 {
		s.logger.Info().Int("removed", removedW).Msg("swept expired welcomes")
	}
}

// runPendingDeletionLoop processes pending deletions (prune-down and
// last-resort transitions) on the interval configured for the gateway.
func (s *Scheduler) runPendingDeletionLoop() {
	interval := time.Duration(s.cfg.PruningCheckIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ProcessDuePendingDeletions(time.Now().Unix()); err != nil {
				s.logger.Error().Err(err).Msg("pending deletion sweep failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// ProcessDuePendingDeletions re-checks every pending deletion due at or
// before now and, per its kind, either prunes the owner's overflow down
// to the configured cap or retires a superseded record once the owner's
// pool has reached the minimum healthy size.
func (s *Scheduler) ProcessDuePendingDeletions(now int64) error {
	due, err := s.aux.ListDuePendingDeletions(now)
	if err != nil {
		return err
	}

	for _, p := range due {
		var done bool
		var procErr error
		switch p.Kind {
		case types.PendingDeletionLastResort:
			done, procErr = s.processLastResort(p)
		case types.PendingDeletionPrune:
			done, procErr = s.processPruneDown(p)
		default:
			s.logger.Warn().Str("owner", p.Owner).Str("kind", string(p.Kind)).Msg("pending deletion of unknown kind, discarding")
			done = true
		}
		if procErr != nil {
			s.logger.Error().Err(procErr).Str("owner", p.Owner).Msg("failed to process pending deletion")
			continue
		}
		if !done {
			// still unsafe to apply; leave scheduled for the next tick
			continue
		}
		if err := s.aux.DeletePendingDeletion(p.Owner, p.Kind, p.OldEventID); err != nil {
			s.logger.Error().Err(err).Str("owner", p.Owner).Msg("failed to clear pending deletion record")
		}
	}

	return nil
}

// processLastResort deletes the old, superseded KeyPackage only if the
// owner's pool has grown healthy enough in the meantime that the old
// record is no longer the last one standing. It reports done=false to
// leave the pending deletion scheduled for a later retry.
func (s *Scheduler) processLastResort(p *types.PendingDeletion) (bool, error) {
	minHealthy := s.cfg.MinHealthyPoolSize
	if minHealthy <= 0 {
		minHealthy = 1
	}

	count, err := s.aux.CountKeyPackagesByOwner(p.Owner)
	if err != nil {
		return false, err
	}
	if count < minHealthy || count <= 1 {
		s.logger.Debug().Str("owner", p.Owner).Int("count", count).Msg("pool still below healthy minimum, deferring last-resort deletion")
		return false, nil
	}

	if _, err := s.aux.GetKeyPackage(p.OldEventID); err != nil {
		return true, nil
	}
	return true, s.aux.DeleteKeyPackage(p.OldEventID)
}

// processPruneDown deletes the oldest excess KeyPackages for an owner
// whose pool exceeded the per-user cap, always preserving at least one
// record. It always reports done=true: a prune-down has nothing left
// to retry once the owner's current excess has been cleared.
func (s *Scheduler) processPruneDown(p *types.PendingDeletion) (bool, error) {
	maxPerUser := s.cfg.MaxKeyPackagesPerUser
	if maxPerUser <= 0 {
		return true, nil
	}

	kps, err := s.aux.ListKeyPackagesByOwner(p.Owner)
	if err != nil {
		return false, err
	}
	excess := len(kps) - maxPerUser
	if excess <= 0 {
		return true, nil
	}

	remaining := len(kps)
	for _, kp := range kps {
		if excess <= 0 || remaining <= 1 {
			break
		}
		if err := s.aux.DeleteKeyPackage(kp.EventID); err != nil {
			return false, err
		}
		remaining--
		excess--
	}
	return true, nil
}
