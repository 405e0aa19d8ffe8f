package retry

import (
	"fmt"
	"time"
)

// Error kinds surfaced at component boundaries (spec.md §7). Each
// implements ClassifiedError so Do (in retry.go) can dispatch on it
// without the caller needing to know about the wrapper at all.

type AuthRequiredError struct{ Reason string }

func (e *AuthRequiredError) Error() string       { return fmt.Sprintf("auth required: %s", e.Reason) }
func (e *AuthRequiredError) Category() Category  { return CategoryPermanent }
func (e *AuthRequiredError) RetryAfter() time.Duration { return 0 }

type Invalid2FAError struct{}

func (e *Invalid2FAError) Error() string       { return "invalid two-factor password" }
func (e *Invalid2FAError) Category() Category  { return CategoryPermanent }
func (e *Invalid2FAError) RetryAfter() time.Duration { return 0 }

type SessionBannedError struct {
	AccountID int64
	Reason    string
}

func (e *SessionBannedError) Error() string {
	return fmt.Sprintf("account %d is banned: %s", e.AccountID, e.Reason)
}
func (e *SessionBannedError) Category() Category       { return CategoryPermanent }
func (e *SessionBannedError) RetryAfter() time.Duration { return 0 }

type RateLimitError struct{ Seconds int }

func (e *RateLimitError) Error() string      { return fmt.Sprintf("rate limited for %ds", e.Seconds) }
func (e *RateLimitError) Category() Category { return CategoryRateLimit }
func (e *RateLimitError) RetryAfter() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}

type TemporaryError struct{ Cause error }

func (e *TemporaryError) Error() string      { return fmt.Sprintf("temporary error: %v", e.Cause) }
func (e *TemporaryError) Unwrap() error      { return e.Cause }
func (e *TemporaryError) Category() Category { return CategoryTemporary }
func (e *TemporaryError) RetryAfter() time.Duration { return 0 }

type PermanentError struct{ Cause error }

func (e *PermanentError) Error() string      { return fmt.Sprintf("permanent error: %v", e.Cause) }
func (e *PermanentError) Unwrap() error      { return e.Cause }
func (e *PermanentError) Category() Category { return CategoryPermanent }
func (e *PermanentError) RetryAfter() time.Duration { return 0 }

type NotFoundError struct{ What string }

func (e *NotFoundError) Error() string      { return fmt.Sprintf("not found: %s", e.What) }
func (e *NotFoundError) Category() Category { return CategoryPermanent }
func (e *NotFoundError) RetryAfter() time.Duration { return 0 }

type PermissionDeniedError struct{ What string }

func (e *PermissionDeniedError) Error() string { return fmt.Sprintf("permission denied: %s", e.What) }
func (e *PermissionDeniedError) Category() Category  { return CategoryPermanent }
func (e *PermissionDeniedError) RetryAfter() time.Duration { return 0 }

// DuplicateKeyError is swallowed at the persistence boundary by design
// (spec.md §7) — it is never returned to a caller above pkg/store, but is
// declared here so store code has a consistent sentinel to check against.
type DuplicateKeyError struct{ Table string }

func (e *DuplicateKeyError) Error() string { return fmt.Sprintf("duplicate key in %s", e.Table) }
func (e *DuplicateKeyError) Category() Category  { return CategoryPermanent }
func (e *DuplicateKeyError) RetryAfter() time.Duration { return 0 }

type ValidationFailedError struct{ What string }

func (e *ValidationFailedError) Error() string { return fmt.Sprintf("validation failed: %s", e.What) }
func (e *ValidationFailedError) Category() Category  { return CategoryPermanent }
func (e *ValidationFailedError) RetryAfter() time.Duration { return 0 }

// PersistenceError is the persistence error kind and is fatal to the
// caller (spec.md §7). pkg/store's write paths do not retry
// serialization failures: its withSerializationRetry helper is not
// called by any of them.
type PersistenceError struct{ Cause error }

func (e *PersistenceError) Error() string      { return fmt.Sprintf("persistence error: %v", e.Cause) }
func (e *PersistenceError) Unwrap() error      { return e.Cause }
func (e *PersistenceError) Category() Category { return CategoryPermanent }
func (e *PersistenceError) RetryAfter() time.Duration { return 0 }
