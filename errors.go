package entitle

import (
	"errors"
	"fmt"

	"github.com/xraph/entitle/productline"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("entitle: not found")
	ErrAlreadyExists = errors.New("entitle: already exists")
	ErrInvalidInput  = errors.New("entitle: invalid input")

	// Classes of engine failure. Typed errors below wrap these.
	ErrDataIntegrity = errors.New("entitle: data integrity violation")
	ErrDomainRule    = errors.New("entitle: domain rule violated")
	ErrInvalidCursor = errors.New("entitle: invalid cursor")

	// Store errors
	ErrProductVersionNotFound     = errors.New("entitle: product version not found")
	ErrDefaultsSnapshotNotFound   = errors.New("entitle: defaults snapshot not found")
	ErrSubscriptionNotFound       = errors.New("entitle: subscription not found")
	ErrPurchaseNotFound           = errors.New("entitle: one-time purchase not found")
	ErrItemQuantityChangeNotFound = errors.New("entitle: item quantity change not found")
	ErrInvoiceNotFound            = errors.New("entitle: invoice not found")
	ErrStoreClosed                = errors.New("entitle: store is closed")
	ErrMigrationFailed            = errors.New("entitle: migration failed")
)

// Domain rule codes.
const (
	CodeInvalidQuantity           = productline.CodeInvalidQuantity
	CodeProductNotStackable       = productline.CodeProductNotStackable
	CodeProductAlreadyOwned       = productline.CodeProductAlreadyOwned
	CodeOneTimePurchaseInLine     = productline.CodeOneTimePurchaseInLine
	CodeInvalidSwitch             = productline.CodeInvalidSwitch
	CodeNegativeItemQuantity      = "negative_item_quantity"
	CodeSubscriptionNotCancelable = "subscription_not_cancelable"
	CodeAlreadyRefunded           = "already_refunded"
	CodeAddOnBaseNotOwned         = "add_on_base_not_owned"
	CodeSubscriptionEnded         = "subscription_ended"
	CodeRenewalNotDue             = "renewal_not_due"
)

// DataIntegrityError reports ledger state that should be impossible, such as
// a purchase referencing a product version that does not exist. It is fatal
// and must be surfaced, never defaulted.
type DataIntegrityError struct {
	TenancyID string
	VersionID string
	Reference string
}

func (e *DataIntegrityError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("entitle: data integrity: product version %q referenced by %s missing in tenancy %q",
			e.VersionID, e.Reference, e.TenancyID)
	}
	return fmt.Sprintf("entitle: data integrity: product version %q missing in tenancy %q", e.VersionID, e.TenancyID)
}

func (e *DataIntegrityError) Unwrap() error { return ErrDataIntegrity }

// DomainRuleViolation is an expected, user-facing refusal.
type DomainRuleViolation struct {
	Code    string
	Message string
}

func (e *DomainRuleViolation) Error() string {
	return fmt.Sprintf("entitle: %s: %s", e.Code, e.Message)
}

func (e *DomainRuleViolation) Unwrap() error { return ErrDomainRule }

// InvalidCursorError reports a malformed or stale pagination cursor. Callers
// restart pagination from the first page.
type InvalidCursorError struct {
	Reason string
	Err    error
}

func (e *InvalidCursorError) Error() string {
	return fmt.Sprintf("entitle: invalid cursor: %s", e.Reason)
}

func (e *InvalidCursorError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidCursor}
	}
	return []error{ErrInvalidCursor, e.Err}
}

// InputValidationError represents a validation failure with details.
type InputValidationError struct {
	Field   string
	Message string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

func (e *InputValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) *InputValidationError {
	return &InputValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func violated(code, format string, args ...any) *DomainRuleViolation {
	return &DomainRuleViolation{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrProductVersionNotFound) ||
		errors.Is(err, ErrDefaultsSnapshotNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrItemQuantityChangeNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsUserFacing returns true for errors a caller can render to the end user.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrDomainRule) ||
		errors.Is(err, ErrInvalidCursor) ||
		errors.Is(err, ErrInvalidInput)
}

// IsFatal returns true for integrity violations that must alert.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}
