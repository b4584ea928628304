package session

import "errors"

var (
	// ErrOperationInProgress is returned when an offer or answer is requested
	// while another one is still gathering.
	ErrOperationInProgress = errors.New("another negotiation step is in progress")

	// ErrInvalidState is returned when an operation is not legal in the
	// current phase, e.g. a second remote description in the same round.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrGatheringTimeout is returned when ICE candidate gathering does not
	// complete within the configured bound.
	ErrGatheringTimeout = errors.New("ICE candidate gathering timed out")
)
