package triage

import "errors"

var (
	ErrDismissed        = errors.New("triage: popup already dismissed")
	ErrNotRinging       = errors.New("triage: call is not ringing")
	ErrNotOngoing       = errors.New("triage: call is not ongoing for this session")
	ErrRingWindowClosed = errors.New("triage: ring window closed")
	ErrClaimedElsewhere = errors.New("triage: call answered in another session")
	ErrSessionNotFound  = errors.New("triage: session not found")
	ErrSessionClosed    = errors.New("triage: session closed")
	ErrTooManySessions  = errors.New("triage: too many open sessions for agent")
	ErrPopupNotFound    = errors.New("triage: popup not found")
	ErrAlreadyHandled   = errors.New("triage: call already handled in this session")
	ErrLeadNotShown     = errors.New("triage: lead is not the one on display")
	ErrLockNotObtained  = errors.New("triage: consolidation lock not obtained")
	ErrInvalidArgument  = errors.New("triage: invalid argument")
)
