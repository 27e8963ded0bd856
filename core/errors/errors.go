package errors

import stderrors "errors"

// Failure classes reported by the market engines. Engines wrap these with
// context via fmt.Errorf("%w: ...") so callers can classify with errors.Is.
var (
	ErrUnauthorized    = stderrors.New("unauthorized")
	ErrInvalidState    = stderrors.New("invalid state")
	ErrTimingViolation = stderrors.New("timing violation")
	ErrProofFailure    = stderrors.New("proof failure")
	ErrTransferFailure = stderrors.New("transfer failure")
	ErrNotFound        = stderrors.New("not found")
	// ErrInvalidArgument marks malformed input rejected before any state is
	// read, such as a zero hashlock or an inverted validity window.
	ErrInvalidArgument = stderrors.New("invalid argument")
)

// Class returns a stable label for the failure class of err, or "internal"
// when err does not wrap one of the market sentinels.
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case stderrors.Is(err, ErrInvalidState):
		return "invalid_state"
	case stderrors.Is(err, ErrTimingViolation):
		return "timing_violation"
	case stderrors.Is(err, ErrProofFailure):
		return "proof_failure"
	case stderrors.Is(err, ErrTransferFailure):
		return "transfer_failure"
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	case stderrors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}
