// Package registry implements the Dialog Registry (spec.md §4.D): the
// authoritative in-memory + persisted mapping of dialog →
// (owning_account?, status, options). The teacher has no equivalent —
// Matrix-side portal bookkeeping plays a similar role there but is out of
// scope here — so this is modeled directly from spec.md §4.D's ownership
// invariant and operation list, in the same "construct owned
// collaborators, pass explicitly" shape as the rest of this engine (no
// package-level singleton).
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// ErrAlreadyAssigned is returned by Assign when the dialog is already
// owned by a different account (spec.md §4.D: "each dialog may be owned
// by at most one account").
var ErrAlreadyAssigned = fmt.Errorf("dialog is already assigned to another account")

// ErrNotAssigned is returned by StartBackfill when the
// dialog has no owning account yet.
var ErrNotAssigned = fmt.Errorf("dialog is not assigned to an account")

// Registry is the Dialog Registry. The persisted dialog table
// (pkg/store.DialogQuery) remains the source of truth across restarts;
// the in-memory half only tracks run-scoped idempotency state
// (in-progress backfills) that would be wasteful to round-trip through
// the database on every check.
type Registry struct {
	dialogs *store.DialogQuery

	mu         sync.Mutex
	backfillOf map[int64]struct{} // dialog IDs with a running backfill loop
}

func New(dialogs *store.DialogQuery) *Registry {
	return &Registry{dialogs: dialogs, backfillOf: make(map[int64]struct{})}
}

// Discover records a dialog observed via list_dialogs/get_entity,
// inserting it unassigned and inactive if new (spec.md §4.D).
func (r *Registry) Discover(ctx context.Context, d model.Dialog) (int64, store.UpsertOutcome, error) {
	return r.dialogs.Upsert(ctx, d)
}

// Assign implements spec.md §4.D's `assign(dialog, account)`. Assigning
// an already-assigned dialog to the SAME account is idempotent; assigning
// it to a different account fails with ErrAlreadyAssigned — callers that
// want to move ownership must call Reassign explicitly.
func (r *Registry) Assign(ctx context.Context, dialogID, accountID int64) error {
	row, err := r.dialogs.GetByID(ctx, dialogID)
	if err != nil {
		return fmt.Errorf("loading dialog %d: %w", dialogID, err)
	}
	if row.AssignedAccount != nil && *row.AssignedAccount != accountID {
		return ErrAlreadyAssigned
	}
	return r.dialogs.Assign(ctx, dialogID, accountID)
}

// Reassign moves ownership to a different account regardless of current
// assignment, used when an operator explicitly re-balances dialogs across
// accounts.
func (r *Registry) Reassign(ctx context.Context, dialogID, newAccountID int64) error {
	return r.dialogs.Assign(ctx, dialogID, newAccountID)
}

// Unassign clears ownership and stops monitoring (pkg/store.Unassign also
// sets is_monitoring=false and status=inactive).
func (r *Registry) Unassign(ctx context.Context, dialogID int64) error {
	return r.dialogs.Unassign(ctx, dialogID)
}

// Pause transitions active → paused instantaneously: new work stops being
// dispatched against this dialog from the next loop iteration onward, but
// spec.md §4.D is explicit that in-flight work runs to completion — Pause
// itself does not cancel anything, it only flips the status that
// pkg/backfill and pkg/listener check before picking up the next unit of
// work.
func (r *Registry) Pause(ctx context.Context, dialogID int64) error {
	return r.dialogs.SetStatus(ctx, dialogID, model.DialogPaused, "")
}

func (r *Registry) Resume(ctx context.Context, dialogID int64) error {
	return r.dialogs.SetStatus(ctx, dialogID, model.DialogActive, "")
}

func (r *Registry) SetOptions(ctx context.Context, dialogID int64, flags model.DialogFlags) error {
	if err := r.dialogs.SetFlags(ctx, dialogID, flags); err != nil {
		return err
	}
	return r.dialogs.SetMonitoring(ctx, dialogID, flags.IsMonitoring)
}

// StartBackfill implements spec.md §4.D's `start_backfill(dialog)`:
// requires assignment, and concurrent calls are idempotent — "a second
// call observes the first" rather than starting a duplicate loop.
// started is true only for the caller that actually transitions the
// dialog into backfilling; every other concurrent caller gets
// started=false and should not spin up its own pkg/backfill worker.
func (r *Registry) StartBackfill(ctx context.Context, dialogID int64) (started bool, err error) {
	row, err := r.dialogs.GetByID(ctx, dialogID)
	if err != nil {
		return false, fmt.Errorf("loading dialog %d: %w", dialogID, err)
	}
	if row.AssignedAccount == nil {
		return false, ErrNotAssigned
	}

	r.mu.Lock()
	if _, running := r.backfillOf[dialogID]; running {
		r.mu.Unlock()
		return false, nil
	}
	r.backfillOf[dialogID] = struct{}{}
	r.mu.Unlock()

	if err := r.dialogs.SetStatus(ctx, dialogID, model.DialogBackfilling, ""); err != nil {
		r.mu.Lock()
		delete(r.backfillOf, dialogID)
		r.mu.Unlock()
		return false, err
	}
	return true, nil
}

// FinishBackfill clears the in-progress marker so a future StartBackfill
// call (e.g. after an operator re-triggers it) can start a fresh loop. It
// does not itself change the dialog's persisted status — the caller
// (pkg/backfill) sets status=active or status=error depending on outcome.
func (r *Registry) FinishBackfill(dialogID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backfillOf, dialogID)
}

func (r *Registry) IsBackfilling(dialogID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.backfillOf[dialogID]
	return ok
}

// Status reports the dialog's current persisted status, used by
// pkg/api's ToggleMonitoring to decide whether to pause or resume it.
func (r *Registry) Status(ctx context.Context, dialogID int64) (model.DialogStatus, error) {
	row, err := r.dialogs.GetByID(ctx, dialogID)
	if err != nil {
		return "", err
	}
	return row.Status, nil
}

func (r *Registry) ListMonitored(ctx context.Context) ([]*store.DialogRow, error) {
	return r.dialogs.ListMonitored(ctx)
}

func (r *Registry) ListByAccount(ctx context.Context, accountID int64) ([]*store.DialogRow, error) {
	return r.dialogs.ListByAccount(ctx, accountID)
}
