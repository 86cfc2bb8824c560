package domain

import "errors"

var (
	// ErrSequenceNotFound is returned when a sequence id does not exist.
	ErrSequenceNotFound = errors.New("sequence not found")

	// ErrSequenceInactive is returned when enrolling into a deactivated
	// sequence.
	ErrSequenceInactive = errors.New("sequence is not active")

	// ErrSequenceEmpty is returned when enrolling into a sequence with
	// no steps.
	ErrSequenceEmpty = errors.New("sequence has no steps")

	// ErrEnrollmentNotFound is returned when an enrollment id does not
	// exist.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrAlreadyEnrolled is returned when the lead already has an
	// active enrollment in the same sequence.
	ErrAlreadyEnrolled = errors.New("lead already actively enrolled in sequence")

	// ErrInvalidTransition is returned when a pause/resume/cancel is
	// attempted from a status that does not permit it.
	ErrInvalidTransition = errors.New("invalid enrollment status transition")

	// ErrNoRecipientAddress is returned when enrolling a lead without a
	// deliverable email address.
	ErrNoRecipientAddress = errors.New("lead has no deliverable email address")

	// ErrLeadUnsubscribed is returned when enrolling a lead that has
	// globally opted out.
	ErrLeadUnsubscribed = errors.New("lead has unsubscribed")
)
