package inventory

import (
	"errors"
	"fmt"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// Common errors
// ข้อผิดพลาดทั่วไป

var (
	// ErrContention is returned when another writer holds the product row lock
	// แถวสินค้าถูกล็อกโดยรายการอื่นอยู่
	ErrContention = errors.New("product row is locked by another writer")

	// ErrNotFound is matched by every NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")
)

// ConflictKind is the sub-kind of a ConflictError.
type ConflictKind string

const (
	ConflictDuplicateNaturalKey ConflictKind = "DuplicateNaturalKey"
	ConflictBarcodeCollision    ConflictKind = "BarcodeCollision"
	ConflictPromotionNameTaken  ConflictKind = "PromotionNameTaken"
	ConflictReconciliationDone  ConflictKind = "ReconciliationAlreadyCompleted"
	ConflictProductHasStock     ConflictKind = "ProductHasStock"
	ConflictNameTaken           ConflictKind = "NameTaken"
	ConflictMasterInUse         ConflictKind = "MasterInUse"
	ConflictCommissionOverlap   ConflictKind = "CommissionOverlap"
	ConflictCategoryCycle       ConflictKind = "CategoryCycle"
)

// ValidationError reports bad input shape or an out-of-range value
// ข้อมูลนำเข้าไม่ถูกต้อง
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Value  string `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation failed on %s: %s (value: %s)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing row
// ไม่พบข้อมูล
type NotFoundError struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a uniqueness or state conflict
// ข้อมูลขัดแย้งกับสถานะปัจจุบัน
type ConflictError struct {
	Kind     ConflictKind `json:"kind"`
	Message  string       `json:"message"`
	Existing any          `json:"existing,omitempty"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict %s: %s", e.Kind, e.Message)
}

// InsufficientStockError is returned when a write would leave stock negative
// สต็อกไม่พอ
type InsufficientStockError struct {
	Available int64 `json:"available"`
	Requested int64 `json:"requested"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

// InvariantViolationError is fatal: the ledger and catalog disagree.
type InvariantViolationError struct {
	Invariant string `json:"invariant"`
	Detail    string `json:"detail"`
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Invariant, e.Detail)
}

// UpstreamUnavailableError reports a cache or blob store failure.
type UpstreamUnavailableError struct {
	Service string `json:"service"`
	Cause   error  `json:"-"`
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Cause)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Cause
}

// StorageError wraps an unexpected persistence failure
// ข้อผิดพลาดของชั้นจัดเก็บข้อมูล
type StorageError struct {
	Operation string `json:"operation"`
	Cause     error  `json:"-"`
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// BulkItemError identifies the failing entry of a bulk movement.
type BulkItemError struct {
	Index int   `json:"index"`
	Cause error `json:"-"`
}

func (e *BulkItemError) Error() string {
	return fmt.Sprintf("bulk item %d: %v", e.Index, e.Cause)
}

func (e *BulkItemError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error
// สร้างข้อผิดพลาดการตรวจสอบข้อมูล
func NewValidationError(field, reason, value string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(entity string, key any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// NewConflictError creates a conflict error.
func NewConflictError(kind ConflictKind, message string, existing any) *ConflictError {
	return &ConflictError{Kind: kind, Message: message, Existing: existing}
}

// NewStorageError wraps cause unless it already is one of the typed errors.
func NewStorageError(operation string, cause error) error {
	if cause == nil || IsTyped(cause) {
		return cause
	}
	return &StorageError{Operation: operation, Cause: cause}
}

// IsTyped reports whether err is one of the domain error kinds and should pass
// through storage wrapping unchanged.
func IsTyped(err error) bool {
	var (
		v  *ValidationError
		nf *NotFoundError
		c  *ConflictError
		is *InsufficientStockError
		iv *InvariantViolationError
		up *UpstreamUnavailableError
		se *StorageError
		be *BulkItemError
		pd *identity.PermissionDeniedError
	)
	return errors.Is(err, ErrContention) ||
		errors.As(err, &v) || errors.As(err, &nf) || errors.As(err, &c) ||
		errors.As(err, &is) || errors.As(err, &iv) || errors.As(err, &up) ||
		errors.As(err, &se) || errors.As(err, &be) || errors.As(err, &pd)
}

// IsConflict reports whether err is a ConflictError of the given kind.
func IsConflict(err error, kind ConflictKind) bool {
	var c *ConflictError
	return errors.As(err, &c) && c.Kind == kind
}
