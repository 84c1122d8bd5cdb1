// Package g6err defines the error taxonomy used across G6 (spec §7).
//
// Every fallible operation returns a plain error; callers that need to
// branch on failure kind use errors.As/errors.Is against *Error and the
// Kind constants below rather than string matching.
package g6err

import "fmt"

// Kind classifies a failure per the spec §7 taxonomy.
type Kind string

const (
	// InputInvalid covers malformed caller input: empty event type,
	// unparsable JSON weights, out-of-range thresholds. Never retried.
	InputInvalid Kind = "INPUT_INVALID"
	// NoFutureExpiries is raised by ExpiryService.Select when candidate
	// filtering leaves nothing to choose from.
	NoFutureExpiries Kind = "NO_FUTURE_EXPIRIES"
	// ProviderFail covers broker/provider adapter errors.
	ProviderFail Kind = "PROVIDER_FAIL"
	// InstrumentEmpty means no instruments survived filtering and fallback.
	InstrumentEmpty Kind = "INSTRUMENT_EMPTY"
	// CoverageLow means strike/field coverage fell below configured thresholds.
	CoverageLow Kind = "COVERAGE_LOW"
	// Backpressure means the event bus entered degraded mode.
	Backpressure Kind = "BACKPRESSURE"
	// SnapshotGuard means the bus forced a panel_full recovery event.
	SnapshotGuard Kind = "SNAPSHOT_GUARD"
	// PersistenceFail covers sink/write failures that must not abort a cycle.
	PersistenceFail Kind = "PERSISTENCE_FAIL"
	// MetricsFail covers collector registration/update failures, always swallowed.
	MetricsFail Kind = "METRICS_FAIL"
)

// Error is the typed error carried through the system. Op names the
// failing operation (e.g. "expiry.select", "bus.publish") for logging.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, g6err.New(g6err.NoFutureExpiries, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// OfKind reports whether err (or anything it wraps) is a g6err.Error of kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
