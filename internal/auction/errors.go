package auction

import "errors"

// Sentinel errors returned by the domain and repository layers. Wrap with
// fmt.Errorf("...: %w", err) to attach context; callers unwrap with
// errors.Is.
var (
	// ErrValidation reports that caller-supplied domain data failed
	// validation (malformed curve, empty portfolio weights, etc).
	ErrValidation = errors.New("auction: validation failed")

	// ErrIdConflict reports an attempt to create an entity whose id already
	// exists in the active (non-deleted) history.
	ErrIdConflict = errors.New("auction: id already exists")

	// ErrNotFound reports that no active record exists for the requested id
	// (or point-in-time).
	ErrNotFound = errors.New("auction: not found")

	// ErrAccessDenied reports that the caller may not act on behalf of the
	// requested bidder.
	ErrAccessDenied = errors.New("auction: access denied")

	// ErrRepository wraps unexpected storage-layer failures.
	ErrRepository = errors.New("auction: repository error")

	// ErrSolver wraps unexpected QP-solver failures (as opposed to
	// solver-reported infeasibility, which is a Status, not an error).
	ErrSolver = errors.New("auction: solver error")

	// ErrScheduleConfig reports an invalid batch schedule configuration
	// (non-positive period, start after end, etc).
	ErrScheduleConfig = errors.New("auction: invalid schedule configuration")

	// ErrInvalidDomain reports a demand curve's truncation domain does not
	// straddle zero.
	ErrInvalidDomain = errors.New("auction: invalid demand curve domain")
)
