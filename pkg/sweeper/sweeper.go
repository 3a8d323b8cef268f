// Package sweeper reclaims abandoned work. A periodic sweep demotes ACTIVE
// UOWs with stale heartbeats to ZOMBIED_SOFT, and after a longer quarantine
// either requeues them as PENDING or fails them outright, depending on the
// dead-fails policy.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/events"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/lifecycle"
	"github.com/Mindburn-Labs/windlass/pkg/observability"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Sweeper detects and reclaims zombie UOWs.
type Sweeper struct {
	store   store.Store
	emitter *events.Emitter
	obs     *observability.Provider
	log     *slog.Logger
	clock   func() time.Time

	soft      time.Duration
	hard      time.Duration
	deadFails bool

	cron  *cron.Cron
	entry cron.EntryID
}

// New builds a sweeper with the given thresholds. soft is how long an
// ACTIVE lease may go without a heartbeat; hard is how long a soft zombie
// may sit unattended before reclamation.
func New(st store.Store, emitter *events.Emitter, logger *slog.Logger, soft, hard time.Duration) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:   st,
		emitter: emitter,
		log:     logger.With("component", "sweeper"),
		clock:   time.Now,
		soft:    soft,
		hard:    hard,
	}
}

// WithClock swaps the time source; used by tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// WithDeadFails makes hard reclamation fail the UOW instead of requeueing it.
func (s *Sweeper) WithDeadFails(v bool) *Sweeper {
	s.deadFails = v
	return s
}

// WithObservability attaches metrics.
func (s *Sweeper) WithObservability(p *observability.Provider) *Sweeper {
	s.obs = p
	return s
}

// Report counts what one sweep changed.
type Report struct {
	SoftZombied int `json:"soft_zombied"`
	Reclaimed   int `json:"reclaimed"`
	Failed      int `json:"failed"`
}

// Start schedules SweepOnce every interval until Stop. Sweep errors are
// logged, never fatal: the next tick retries.
func (s *Sweeper) Start(interval time.Duration) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	s.cron = cron.New()
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, err := s.SweepOnce(context.Background()); err != nil {
			s.log.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		s.cron = nil
		return err
	}
	s.entry = entry
	s.cron.Start()
	s.log.Info("sweeper started", "interval", interval, "soft", s.soft, "hard", s.hard, "dead_fails", s.deadFails)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// SweepOnce runs one full pass: soft detection then hard reclamation. Each
// UOW is handled in its own transaction so one poisoned row cannot wedge
// the whole sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report
	now := s.clock().UTC()

	softIDs, err := s.listIDs(ctx, func(tx store.Tx) ([]*contracts.UOW, error) {
		return tx.ActiveHeartbeatBefore(ctx, now.Add(-s.soft))
	})
	if err != nil {
		return report, err
	}
	for _, id := range softIDs {
		if err := s.demoteSoft(ctx, id, now); err != nil {
			s.log.Error("soft zombie demotion failed", "uow_id", id, "error", err)
			continue
		}
		report.SoftZombied++
	}

	hardIDs, err := s.listIDs(ctx, func(tx store.Tx) ([]*contracts.UOW, error) {
		return tx.SoftZombiesBefore(ctx, now.Add(-s.hard))
	})
	if err != nil {
		return report, err
	}
	for _, id := range hardIDs {
		failed, err := s.reclaim(ctx, id, now)
		if err != nil {
			s.log.Error("zombie reclamation failed", "uow_id", id, "error", err)
			continue
		}
		if failed {
			report.Failed++
		} else {
			report.Reclaimed++
		}
	}

	if report.SoftZombied+report.Reclaimed+report.Failed > 0 {
		s.log.Info("sweep complete",
			"soft_zombied", report.SoftZombied, "reclaimed", report.Reclaimed, "failed", report.Failed)
	}
	return report, nil
}

func (s *Sweeper) listIDs(ctx context.Context, query func(store.Tx) ([]*contracts.UOW, error)) ([]string, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := query(tx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, u := range rows {
		ids[i] = u.ID
	}
	return ids, nil
}

// demoteSoft moves one stale ACTIVE UOW to ZOMBIED_SOFT. The dead actor's
// lease is voided; its identity survives in the history row.
func (s *Sweeper) demoteSoft(ctx context.Context, uowID string, now time.Time) error {
	return s.inTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if u.Status != contracts.StatusActive || u.LastHeartbeat == nil || !u.LastHeartbeat.Before(now.Add(-s.soft)) {
			// Heartbeat arrived between the scan and the lock.
			return nil
		}
		deadActor := u.LeaseActorID
		lastBeat := u.LastHeartbeat.Format(time.RFC3339)
		if err := lifecycle.Transition(u, contracts.StatusZombiedSoft, now); err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      contracts.StatusActive,
			To:        contracts.StatusZombiedSoft,
			ActorID:   contracts.SystemActorID,
			EventType: contracts.HistoryEventZombieSoft,
			Reason:    fmt.Sprintf("no heartbeat from %s since %s", deadActor, lastBeat),
		}, now); err != nil {
			return err
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return err
		}
		s.emit(ctx, contracts.EventZombieSoftDetected, u.ID, u.InstanceID, map[string]any{
			"dead_actor": deadActor,
		})
		s.log.Warn("soft zombie detected", "uow_id", u.ID, "dead_actor", deadActor)
		return nil
	})
}

// reclaim handles one soft zombie past the hard threshold. Under the
// default policy it goes back to PENDING for a fresh lease; under
// dead-fails it passes through ZOMBIED_DEAD and fails.
func (s *Sweeper) reclaim(ctx context.Context, uowID string, now time.Time) (failed bool, err error) {
	err = s.inTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if u.Status != contracts.StatusZombiedSoft || !u.UpdatedAt.Before(now.Add(-s.hard)) {
			return nil
		}

		if s.deadFails {
			if err := lifecycle.Transition(u, contracts.StatusZombiedDead, now); err != nil {
				return err
			}
			if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
				From:      contracts.StatusZombiedSoft,
				To:        contracts.StatusZombiedDead,
				ActorID:   contracts.SystemActorID,
				EventType: contracts.HistoryEventZombieDead,
			}, now); err != nil {
				return err
			}
			if err := lifecycle.Transition(u, contracts.StatusFailed, now); err != nil {
				return err
			}
			if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
				From:      contracts.StatusZombiedDead,
				To:        contracts.StatusFailed,
				ActorID:   contracts.SystemActorID,
				EventType: contracts.HistoryEventFailed,
				Reason:    "dead zombie under dead-fails policy",
			}, now); err != nil {
				return err
			}
			failed = true
		} else {
			if err := lifecycle.Transition(u, contracts.StatusPending, now); err != nil {
				return err
			}
			if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
				From:      contracts.StatusZombiedSoft,
				To:        contracts.StatusPending,
				ActorID:   contracts.SystemActorID,
				EventType: contracts.HistoryEventZombieReclaim,
			}, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return err
		}
		s.emit(ctx, contracts.EventZombieReclaimed, u.ID, u.InstanceID, map[string]any{
			"failed": failed,
		})
		if s.obs != nil {
			s.obs.RecordReclaim(ctx, 1)
		}
		return nil
	})
	return failed, err
}

func (s *Sweeper) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Sweeper) emit(ctx context.Context, eventType, uowID, instanceID string, payload map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(ctx, eventType, uowID, instanceID, payload)
	}
}
