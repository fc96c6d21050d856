// Package tradeerr defines the typed error taxonomy shared by the
// aggregator, position book, trailing controller, and journal.
package tradeerr

import "fmt"

// Kind classifies an error for caller-side handling, mirroring the
// taxonomy: Validation, Lookup, Conflict, Ordering, Storage, Upstream.
type Kind string

const (
	KindValidation Kind = "validation"
	KindLookup     Kind = "lookup"
	KindConflict   Kind = "conflict"
	KindOrdering   Kind = "ordering"
	KindStorage    Kind = "storage"
	KindUpstream   Kind = "upstream"
)

// Error is a structured error carrying a kind, a code, and an optional symbol.
type Error struct {
	Kind    Kind
	Code    string
	Symbol  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Kind, e.Code, e.Symbol, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, symbol, msg string) *Error {
	return &Error{Kind: kind, Code: code, Symbol: symbol, Message: msg}
}

// Validation errors: caller bug, state unchanged.
func InvalidBar(symbol, msg string) *Error    { return newErr(KindValidation, "invalid_bar", symbol, msg) }
func InvalidSide(symbol, msg string) *Error   { return newErr(KindValidation, "invalid_side", symbol, msg) }
func InvalidQuantity(symbol, msg string) *Error {
	return newErr(KindValidation, "invalid_quantity", symbol, msg)
}
func InvalidPrice(symbol, msg string) *Error  { return newErr(KindValidation, "invalid_price", symbol, msg) }
func ConfigError(msg string) *Error           { return newErr(KindValidation, "config_error", "", msg) }

// Lookup errors: caller bug, no state change.
func UnknownPosition(symbol string) *Error {
	return newErr(KindLookup, "unknown_position", symbol, "no open position for symbol")
}
func UnknownTrade(id int64) *Error {
	return newErr(KindLookup, "unknown_trade", "", fmt.Sprintf("no trade with id %d", id))
}

// Conflict errors: state-driven, caller must handle.
func DuplicatePosition(symbol string) *Error {
	return newErr(KindConflict, "duplicate_position", symbol, "position already open for symbol")
}
func AlreadyExited(id int64) *Error {
	return newErr(KindConflict, "already_exited", "", fmt.Sprintf("trade %d already has an exit", id))
}

// Ordering errors: source bars arrived out of order.
func OrderingError(symbol, msg string) *Error { return newErr(KindOrdering, "ordering", symbol, msg) }

// Storage errors: disk/database failure.
func JournalIOError(msg string, cause error) *Error {
	e := newErr(KindStorage, "journal_io", "", msg)
	e.Err = cause
	return e
}

// BrokerErrorKind enumerates upstream broker failure modes, exposed verbatim
// to callers per the Upstream taxonomy category.
type BrokerErrorKind string

const (
	BrokerConnectionRefused BrokerErrorKind = "connection_refused"
	BrokerTimeout           BrokerErrorKind = "timeout"
	BrokerDisconnected      BrokerErrorKind = "disconnected"
	BrokerInvalidSymbol     BrokerErrorKind = "invalid_symbol"
	BrokerDataError         BrokerErrorKind = "data_error"
	BrokerRateLimited       BrokerErrorKind = "rate_limited"
)

// BrokerError is the Upstream taxonomy category: surfaced to the caller
// verbatim, never retried by the core.
type BrokerError struct {
	Kind    BrokerErrorKind
	Symbol  string
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %s (%s): %s", e.Kind, e.Symbol, e.Message)
}
