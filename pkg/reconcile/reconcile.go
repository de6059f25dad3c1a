// Package reconcile runs the per-day reconciliation between the manager's
// own ledger and the system stock report.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/report"
)

// emptyLedger is stored when a reconciliation is opened.
var emptyLedger = json.RawMessage(`{}`)

// Snapshotter builds the system report captured on completion.
type Snapshotter interface {
	Snapshot(ctx context.Context, p identity.Principal, date time.Time) (*report.Report, error)
}

// Service drives the pending → completed state machine
// บริการกระทบยอดประจำวัน
type Service struct {
	manager  *inventory.Manager
	snapshot Snapshotter
	logger   *zap.Logger
}

// NewService creates the workflow on top of manager. reports is normally a
// *report.Service.
func NewService(manager *inventory.Manager, reports Snapshotter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{manager: manager, snapshot: reports, logger: logger}
}

func (s *Service) authorize(p identity.Principal) error {
	if err := identity.Authorize(p, identity.OpReconcile); err != nil {
		s.logger.Warn("permission denied",
			zap.String("username", p.Username),
			zap.String("role", string(p.Role)),
			zap.String("operation", string(identity.OpReconcile)),
		)
		return err
	}
	return nil
}

func (s *Service) storage() inventory.Storage { return s.manager.Storage() }

// Open returns the reconciliation of the Bangkok day of date, creating a
// pending one with an empty ledger on first access.
// เปิดการกระทบยอดของวันที่กำหนด
func (s *Service) Open(ctx context.Context, p identity.Principal, date time.Time) (inventory.Reconciliation, error) {
	if err := s.authorize(p); err != nil {
		return inventory.Reconciliation{}, err
	}
	day := identity.DateOf(date)

	var (
		rec     inventory.Reconciliation
		created bool
	)
	err := s.storage().InTx(ctx, func(q inventory.Queries) error {
		existing, err := q.GetReconciliationByDate(ctx, day)
		if err == nil {
			rec = existing
			return nil
		}
		if !errors.Is(err, inventory.ErrNotFound) {
			return inventory.NewStorageError("get_reconciliation", err)
		}
		rec = inventory.Reconciliation{
			Date:              day,
			ManagerID:         managerRef(p),
			Status:            inventory.ReconciliationPending,
			ManagerLedgerJSON: emptyLedger,
			CreatedAt:         s.manager.Clock().Now(),
		}
		if err := q.InsertReconciliation(ctx, &rec); err != nil {
			return err
		}
		created = true
		return nil
	})
	if inventory.IsConflict(err, inventory.ConflictNameTaken) {
		// another caller opened the same day first
		rec, err = s.storage().GetReconciliationByDate(ctx, day)
		created = false
	}
	if err != nil {
		return inventory.Reconciliation{}, inventory.NewStorageError("open_reconciliation", err)
	}

	if created {
		s.logger.Info("reconciliation opened",
			zap.Int64("reconciliation_id", rec.ID),
			zap.String("date", identity.FormatDate(day)),
			zap.String("user", p.Username),
		)
		s.manager.RecordActivity(ctx, p, "open_reconciliation", target(rec), nil)
	}
	return rec, nil
}

// SaveLedger replaces the manager ledger of a pending reconciliation.
// ledger must be a JSON object.
func (s *Service) SaveLedger(ctx context.Context, p identity.Principal, id int64, ledger json.RawMessage) (inventory.Reconciliation, error) {
	if err := s.authorize(p); err != nil {
		return inventory.Reconciliation{}, err
	}
	if err := validateLedger(ledger); err != nil {
		return inventory.Reconciliation{}, err
	}

	var rec inventory.Reconciliation
	err := s.storage().InTx(ctx, func(q inventory.Queries) error {
		var err error
		if rec, err = q.GetReconciliation(ctx, id); err != nil {
			return err
		}
		if rec.Status == inventory.ReconciliationCompleted {
			return inventory.NewConflictError(inventory.ConflictReconciliationDone,
				fmt.Sprintf("reconciliation of %s is completed", identity.FormatDate(rec.Date)), rec.ID)
		}
		rec.ManagerLedgerJSON = append(json.RawMessage(nil), ledger...)
		if rec.ManagerID == nil {
			rec.ManagerID = managerRef(p)
		}
		return q.UpdateReconciliation(ctx, &rec)
	})
	if err != nil {
		if inventory.IsConflict(err, inventory.ConflictReconciliationDone) {
			s.logger.Warn("ledger save rejected",
				zap.Int64("reconciliation_id", id),
				zap.String("user", p.Username),
			)
		}
		return inventory.Reconciliation{}, inventory.NewStorageError("save_ledger", err)
	}

	s.logger.Info("reconciliation ledger saved",
		zap.Int64("reconciliation_id", rec.ID),
		zap.Int("bytes", len(ledger)),
		zap.String("user", p.Username),
	)
	s.manager.RecordActivity(ctx, p, "save_reconciliation_ledger", target(rec), nil)
	return rec, nil
}

// Complete captures the system snapshot of the day and marks the
// reconciliation completed. Completing twice returns the completed row.
// ปิดการกระทบยอด
func (s *Service) Complete(ctx context.Context, p identity.Principal, id int64) (inventory.Reconciliation, error) {
	if err := s.authorize(p); err != nil {
		return inventory.Reconciliation{}, err
	}
	rec, err := s.storage().GetReconciliation(ctx, id)
	if err != nil {
		return inventory.Reconciliation{}, inventory.NewStorageError("get_reconciliation", err)
	}
	if rec.Status == inventory.ReconciliationCompleted {
		return rec, nil
	}

	// The report opens its own transactions, so it is built first.
	snap, err := s.snapshot.Snapshot(ctx, p, rec.Date)
	if err != nil {
		return inventory.Reconciliation{}, err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return inventory.Reconciliation{}, fmt.Errorf("encode snapshot: %w", err)
	}

	completed := false
	err = s.storage().InTx(ctx, func(q inventory.Queries) error {
		var err error
		if rec, err = q.GetReconciliation(ctx, id); err != nil {
			return err
		}
		if rec.Status == inventory.ReconciliationCompleted {
			return nil
		}
		now := s.manager.Clock().Now()
		rec.Status = inventory.ReconciliationCompleted
		rec.CompletedAt = &now
		rec.SystemSnapshotJSON = raw
		completed = true
		return q.UpdateReconciliation(ctx, &rec)
	})
	if err != nil {
		return inventory.Reconciliation{}, inventory.NewStorageError("complete_reconciliation", err)
	}

	if completed {
		s.logger.Info("reconciliation completed",
			zap.Int64("reconciliation_id", rec.ID),
			zap.String("date", identity.FormatDate(rec.Date)),
			zap.Int64("closing", snap.GrandTotal.Closing),
			zap.String("user", p.Username),
		)
		s.manager.RecordActivity(ctx, p, "complete_reconciliation", target(rec),
			map[string]int64{"closing": snap.GrandTotal.Closing})
	}
	return rec, nil
}

// Get returns one reconciliation.
func (s *Service) Get(ctx context.Context, p identity.Principal, id int64) (inventory.Reconciliation, error) {
	if err := s.authorize(p); err != nil {
		return inventory.Reconciliation{}, err
	}
	rec, err := s.storage().GetReconciliation(ctx, id)
	if err != nil {
		return inventory.Reconciliation{}, inventory.NewStorageError("get_reconciliation", err)
	}
	return rec, nil
}

// List returns the reconciliations of Bangkok days from..to inclusive,
// oldest first.
func (s *Service) List(ctx context.Context, p identity.Principal, from, to time.Time) ([]inventory.Reconciliation, error) {
	if err := s.authorize(p); err != nil {
		return nil, err
	}
	start, end, err := identity.RangeBounds(from, to)
	if err != nil {
		return nil, inventory.NewValidationError("from", err.Error(), identity.FormatDate(from))
	}
	rows, err := s.storage().ListReconciliations(ctx, start, end)
	if err != nil {
		return nil, inventory.NewStorageError("list_reconciliations", err)
	}
	if rows == nil {
		rows = []inventory.Reconciliation{}
	}
	return rows, nil
}

func validateLedger(ledger json.RawMessage) error {
	var obj map[string]json.RawMessage
	if len(ledger) == 0 {
		return inventory.NewValidationError("manager_ledger_json", "required", "")
	}
	if err := json.Unmarshal(ledger, &obj); err != nil || obj == nil {
		return inventory.NewValidationError("manager_ledger_json", "must be a JSON object", truncate(string(ledger)))
	}
	return nil
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func managerRef(p identity.Principal) *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}

func target(r inventory.Reconciliation) string {
	return fmt.Sprintf("reconciliation/%s", identity.FormatDate(r.Date))
}
