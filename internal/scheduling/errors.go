package scheduling

import "errors"

// Every precondition violation surfaces as one of these sentinel values,
// wrapped with call-site context. The HTTP layer maps them to status codes
// with errors.Is. Only ErrUnavailable is retryable.
var (
	ErrInvalidRange         = errors.New("window start must be before window end")
	ErrOverlap              = errors.New("window overlaps an existing window")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrWindowNotFound       = errors.New("availability window not found")
	ErrSlotUnavailable      = errors.New("slot is not available")
	ErrInvalidDate          = errors.New("date is in the past")
	ErrPastAppointment      = errors.New("appointment start time has already elapsed")
	ErrAlreadyTerminal      = errors.New("appointment is already cancelled or completed")
	ErrUnsupportedOperation = errors.New("reschedule must keep the original date")
	ErrUnavailable          = errors.New("scheduling backend unavailable, retry shortly")
)
