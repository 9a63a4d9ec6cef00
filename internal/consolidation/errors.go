package consolidation

import "errors"

// Pipeline error taxonomy. Pre-flight errors occur before a run record
// exists; the rest are recorded on the run's error field.
var (
	ErrOrgNotFound        = errors.New("org not found")
	ErrOrgInactive        = errors.New("org is inactive")
	ErrRunInFlight        = errors.New("a run is already in flight for this org and period")
	ErrHierarchyInvalid   = errors.New("hierarchy validation failed")
	ErrPersistenceFailure = errors.New("fact persistence failed")
)
