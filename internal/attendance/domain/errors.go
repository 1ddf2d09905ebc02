package domain

import "errors"

// Kind groups failures by how callers must react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is a malformed input. Never retried.
	KindValidation
	// KindNotFound is a reference to something that does not exist.
	KindNotFound
	// KindConflict is a duplicate. Reported as a success-shaped duplicate.
	KindConflict
	// KindState is a well-formed request that is not acceptable right now.
	KindState
	// KindDependency is an unavailable collaborator. Safe to retry later.
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindState:
		return "state"
	case KindDependency:
		return "dependency"
	}
	return "unknown"
}

// Error is a classified engine failure. Reason is the stable string
// surfaced to scanners and dashboards.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func newErr(k Kind, reason string) *Error { return &Error{Kind: k, Reason: reason} }

var (
	ErrMalformedCode      = newErr(KindValidation, "malformed_code")
	ErrMalformedPolygon   = newErr(KindValidation, "malformed_polygon")
	ErrMalformedTimestamp = newErr(KindValidation, "malformed_timestamp")

	ErrUnknownCode     = newErr(KindNotFound, "unknown_code")
	ErrUnknownSession  = newErr(KindNotFound, "unknown_session")
	ErrUnknownPerson   = newErr(KindNotFound, "unknown_person")
	ErrUnknownDevice   = newErr(KindNotFound, "unknown_device")
	ErrRecordNotFound  = newErr(KindNotFound, "record_not_found")
	ErrNoActiveSession = newErr(KindState, "no_active_session")

	ErrAlreadyUsed       = newErr(KindConflict, "already_used")
	ErrAlreadyRecorded   = newErr(KindConflict, "already_recorded")
	ErrAlreadyCheckedOut = newErr(KindConflict, "already_checked_out")

	ErrRevokedRegistration = newErr(KindState, "revoked_registration")
	ErrWrongActivity       = newErr(KindState, "wrong_activity")
	ErrNotEnrolled         = newErr(KindState, "not_enrolled")
	ErrNotInEntryZone      = newErr(KindState, "not_in_entry_zone")

	ErrRecognizerUnavailable = newErr(KindDependency, "recognizer_unavailable")
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the reason of the first *Error in err's chain, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
