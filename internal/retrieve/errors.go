package retrieve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/mailvault/internal/model"
)

// ErrBackendUnsupported marks an operation a backend cannot implement at
// all, as opposed to one that failed. Protocol-backend deletion is the
// canonical case: opaque REST message ids cannot be reliably mapped to
// protocol-native ids, so no best-effort partial mapping is attempted.
var ErrBackendUnsupported = errors.New("operation not supported by this backend")

// AttemptError is one backend's failure within a failover pass.
type AttemptError struct {
	Backend model.Backend
	Err     error
}

// AggregatedError carries one sub-error per attempted backend, in attempt
// order. Earlier failures are never discarded when falling through.
type AggregatedError struct {
	Op       string
	Attempts []AttemptError
}

func (e *AggregatedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Backend, a.Err))
	}
	return fmt.Sprintf("%s failed on all backends: %s", e.Op, strings.Join(parts, "; "))
}

// Unwrap exposes the sub-errors to errors.Is/As.
func (e *AggregatedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
