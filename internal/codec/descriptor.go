// Package codec defines the connection-code format used to move a session
// description between peers by hand (copy out of one terminal, paste into the
// other).
package codec

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind is the role of a session description in the offer/answer exchange.
type Kind string

// Descriptor kinds. The string values match the "type" field of the JSON form.
const (
	KindOffer  Kind = "offer"
	KindAnswer Kind = "answer"
)

// Prefix constants. Every encoded blob starts with exactly one of these.
const (
	PrefixOffer  = "O:"
	PrefixAnswer = "A:"
	PrefixSize   = 2
)

// Descriptor is one side's negotiation state at a point in time.
type Descriptor struct {
	Kind Kind   `json:"type"`
	SDP  string `json:"sdp"`
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindOffer || k == KindAnswer
}

// Prefix returns the blob prefix for k, or "" for an unknown kind.
func (k Kind) Prefix() string {
	switch k {
	case KindOffer:
		return PrefixOffer
	case KindAnswer:
		return PrefixAnswer
	}
	return ""
}

// SDPType converts k to the pion SDP type.
func (k Kind) SDPType() webrtc.SDPType {
	return webrtc.NewSDPType(string(k))
}

// FromSessionDescription builds a Descriptor from a pion session description.
// Only offers and answers are representable.
func FromSessionDescription(sd webrtc.SessionDescription) (Descriptor, error) {
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		return Descriptor{Kind: KindOffer, SDP: sd.SDP}, nil
	case webrtc.SDPTypeAnswer:
		return Descriptor{Kind: KindAnswer, SDP: sd.SDP}, nil
	}
	return Descriptor{}, fmt.Errorf("unsupported session description type: %s", sd.Type)
}

// SessionDescription converts d to the pion form.
func (d Descriptor) SessionDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: d.Kind.SDPType(), SDP: d.SDP}
}
