// Package sessiontest provides an in-memory engine for exercising
// session.Manager without a network.
package sessiontest

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateLine is appended to the local SDP once gathering completes, so
// tests can tell a fully gathered description from a partial one.
const CandidateLine = "a=end-of-candidates\r\n"

// Engine is a scriptable stand-in for a PeerConnection. By default gathering
// completes on its own right after SetLocalDescription; set ManualGathering to
// drive it with CompleteGathering instead.
type Engine struct {
	ManualGathering bool

	// Error injection.
	CreateOfferErr  error
	CreateAnswerErr error
	SetRemoteErr    error
	AddTrackErr     error

	mu           sync.Mutex
	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	gathering    webrtc.ICEGatheringState
	tracks       []webrtc.TrackLocal
	closed       bool
	onGathering  func(webrtc.ICEGatheringState)
	onConnection func(webrtc.ICEConnectionState)
	onTrack      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	offers       int
}

// NewEngine returns an Engine in the new gathering state.
func NewEngine() *Engine {
	return &Engine{gathering: webrtc.ICEGatheringStateNew}
}

var errClosed = errors.New("sessiontest: engine closed")

func (e *Engine) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.AddTrackErr != nil {
		return nil, e.AddTrackErr
	}
	e.tracks = append(e.tracks, track)
	return nil, nil
}

func (e *Engine) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return webrtc.SessionDescription{}, errClosed
	}
	if e.CreateOfferErr != nil {
		return webrtc.SessionDescription{}, e.CreateOfferErr
	}
	e.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\ns=fake offer\r\n"}, nil
}

func (e *Engine) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return webrtc.SessionDescription{}, errClosed
	}
	if e.CreateAnswerErr != nil {
		return webrtc.SessionDescription{}, e.CreateAnswerErr
	}
	if e.remote == nil || e.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("sessiontest: no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\ns=fake answer\r\n"}, nil
}

// SetLocalDescription stores desc and starts gathering.
func (e *Engine) SetLocalDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errClosed
	}
	e.local = &desc
	restart := e.gathering != webrtc.ICEGatheringStateComplete
	if restart {
		e.gathering = webrtc.ICEGatheringStateGathering
	}
	handler := e.onGathering
	manual := e.ManualGathering
	e.mu.Unlock()

	if !restart {
		return nil
	}
	if handler != nil {
		handler(webrtc.ICEGatheringStateGathering)
	}
	if !manual {
		go e.CompleteGathering()
	}
	return nil
}

func (e *Engine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	if e.SetRemoteErr != nil {
		return e.SetRemoteErr
	}
	e.remote = &desc
	return nil
}

// LocalDescription returns the local description, with the candidate line
// once gathering is complete.
func (e *Engine) LocalDescription() *webrtc.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return nil
	}
	desc := *e.local
	if e.gathering == webrtc.ICEGatheringStateComplete {
		desc.SDP += CandidateLine
	}
	return &desc
}

func (e *Engine) ICEGatheringState() webrtc.ICEGatheringState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gathering
}

func (e *Engine) OnICEGatheringStateChange(f func(webrtc.ICEGatheringState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onGathering = f
}

func (e *Engine) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnection = f
}

func (e *Engine) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrack = f
}

// Close marks the engine closed and reports the closed ICE state like pion.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	handler := e.onConnection
	e.mu.Unlock()

	if handler != nil {
		handler(webrtc.ICEConnectionStateClosed)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// CompleteGathering moves gathering to complete and notifies the handler.
func (e *Engine) CompleteGathering() {
	e.mu.Lock()
	if e.closed || e.gathering == webrtc.ICEGatheringStateComplete {
		e.mu.Unlock()
		return
	}
	e.gathering = webrtc.ICEGatheringStateComplete
	handler := e.onGathering
	e.mu.Unlock()

	if handler != nil {
		handler(webrtc.ICEGatheringStateComplete)
	}
}

// SetConnectionState reports s to the connection-state handler.
func (e *Engine) SetConnectionState(s webrtc.ICEConnectionState) {
	e.mu.Lock()
	handler := e.onConnection
	e.mu.Unlock()

	if handler != nil {
		handler(s)
	}
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Tracks returns the tracks added so far.
func (e *Engine) Tracks() []webrtc.TrackLocal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), e.tracks...)
}

// Remote returns the last remote description.
func (e *Engine) Remote() *webrtc.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Offers returns how many offers were created.
func (e *Engine) Offers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers
}

// Factory returns a factory that hands out engines in order and records
// them; once the list runs out it creates fresh auto-gathering engines.
type Factory struct {
	mu      sync.Mutex
	queue   []*Engine
	created []*Engine
}

// NewFactory returns a Factory that will hand out engines first.
func NewFactory(engines ...*Engine) *Factory {
	return &Factory{queue: engines}
}

// New implements the engine factory signature. It returns the concrete type;
// callers adapt it with a closure.
func (f *Factory) New() (*Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var e *Engine
	if len(f.queue) > 0 {
		e, f.queue = f.queue[0], f.queue[1:]
	} else {
		e = NewEngine()
	}
	f.created = append(f.created, e)
	return e, nil
}

// Created returns every engine handed out so far.
func (f *Factory) Created() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Engine(nil), f.created...)
}
