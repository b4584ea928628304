package session

import "github.com/pion/webrtc/v4"

// Phase is the negotiation progress of a Manager.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitialized
	PhaseLocalOfferPending
	PhaseRemoteOfferPending
	PhaseDescriptionExchanged
	PhaseNegotiating
	PhaseConnected
	PhaseDisconnected
	PhaseFailed
	PhaseClosed
)

var phaseNames = [...]string{
	PhaseIdle:                 "idle",
	PhaseInitialized:          "initialized",
	PhaseLocalOfferPending:    "local-offer-pending",
	PhaseRemoteOfferPending:   "remote-offer-pending",
	PhaseDescriptionExchanged: "description-exchanged",
	PhaseNegotiating:          "negotiating",
	PhaseConnected:            "connected",
	PhaseDisconnected:         "disconnected",
	PhaseFailed:               "failed",
	PhaseClosed:               "closed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// exchanged reports whether both descriptions of the current round are in
// place on a usable engine, so a new round may begin.
func (p Phase) exchanged() bool {
	return p >= PhaseDescriptionExchanged && p != PhaseFailed && p != PhaseClosed
}

// ConnectionState is the connectivity state reported by the engine. It is
// observed by this package, never set.
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateChecking
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

var connectionStateNames = [...]string{
	ConnectionStateNew:          "new",
	ConnectionStateChecking:     "checking",
	ConnectionStateConnected:    "connected",
	ConnectionStateDisconnected: "disconnected",
	ConnectionStateFailed:       "failed",
	ConnectionStateClosed:       "closed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionStateNames) {
		return "unknown"
	}
	return connectionStateNames[s]
}

// connectionStateFromICE translates pion's ICE connection state. "completed"
// only means the controlling agent stopped checking, so it is reported as
// connected.
func connectionStateFromICE(s webrtc.ICEConnectionState) (ConnectionState, bool) {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return ConnectionStateNew, true
	case webrtc.ICEConnectionStateChecking:
		return ConnectionStateChecking, true
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return ConnectionStateConnected, true
	case webrtc.ICEConnectionStateDisconnected:
		return ConnectionStateDisconnected, true
	case webrtc.ICEConnectionStateFailed:
		return ConnectionStateFailed, true
	case webrtc.ICEConnectionStateClosed:
		return ConnectionStateClosed, true
	}
	return 0, false
}
