package steps

import "errors"

var (
	// ErrWrongStepType is returned when an approve, reject or signal call
	// targets a step execution of another type.
	ErrWrongStepType = errors.New("step execution has wrong type for this operation")

	// ErrNotSignalable is returned when a signal targets a wait step that
	// is not in manual mode.
	ErrNotSignalable = errors.New("wait step does not accept signals")
)
