// Package session drives one offer/answer negotiation over a pion
// PeerConnection and turns its descriptions into connection codes.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/codec"
	"github.com/1ureka/peerlink/internal/util"
)

// DefaultGatherTimeout bounds the wait for ICE candidate gathering.
const DefaultGatherTimeout = 15 * time.Second

// LocalTrack is a media track supplied by the media provider. The Manager
// only attaches it, and stops it on Stop.
type LocalTrack interface {
	Local() webrtc.TrackLocal
	Stop()
}

// Option configures a Manager.
type Option func(*Manager)

// WithEngineFactory sets how the PeerConnection is built. The default is
// NewEngineFactory with a zero EngineConfig.
func WithEngineFactory(f EngineFactory) Option {
	return func(m *Manager) { m.newEngine = f }
}

// WithGatherTimeout overrides DefaultGatherTimeout.
func WithGatherTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.gatherTimeout = d
		}
	}
}

type subscriber struct {
	id int
	fn func(ConnectionState)
}

// Manager owns a single PeerConnection for the lifetime of one session and
// orchestrates the offer/answer exchange on it.
//
// Only CreateOffer and CreateAnswer block: they return once ICE gathering is
// complete, because a connection code pasted by hand cannot carry candidates
// discovered later. One negotiation step may be in flight at a time.
type Manager struct {
	newEngine     EngineFactory
	gatherTimeout time.Duration

	mu         sync.Mutex
	engine     Engine
	tracks     []LocalTrack
	stopped    chan struct{} // closed by Stop; wakes a pending gathering wait
	gatherDone chan struct{} // closed when gathering completes; nil when nobody waits
	phase      Phase
	connState  ConnectionState
	busy       bool
	lastRemote codec.Descriptor

	nextSubID   int
	subscribers []subscriber
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// NewManager creates an idle Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{gatherTimeout: DefaultGatherTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start creates the PeerConnection and attaches tracks. An empty track list
// is valid: the session then only receives.
func (m *Manager) Start(tracks []LocalTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(tracks)
}

func (m *Manager) startLocked(tracks []LocalTrack) error {
	if m.engine != nil {
		return fmt.Errorf("%w: session already started", ErrInvalidState)
	}

	if m.newEngine == nil {
		f, err := NewEngineFactory(EngineConfig{})
		if err != nil {
			return err
		}
		m.newEngine = f
	}

	e, err := m.newEngine()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	m.attach(e)

	for _, t := range tracks {
		local := t.Local()
		sender, err := e.AddTrack(local)
		if err != nil {
			// Nothing has started gathering yet, so closing under the lock
			// cannot re-enter the handlers.
			detach(e)
			_ = e.Close()
			return fmt.Errorf("add %s track: %w", local.Kind(), err)
		}
		go drainRTCP(sender)
	}

	m.engine = e
	m.tracks = tracks
	m.stopped = make(chan struct{})
	m.phase = PhaseInitialized
	m.connState = ConnectionStateNew
	m.lastRemote = codec.Descriptor{}

	util.LogDebug("session started with %d local track(s)", len(tracks))
	return nil
}

// Stop releases local tracks, closes the PeerConnection and returns to Idle.
// A pending CreateOffer/CreateAnswer is woken and fails. Safe to call in any
// phase, any number of times.
func (m *Manager) Stop() error {
	m.mu.Lock()
	e, tracks, stopped := m.engine, m.tracks, m.stopped
	m.engine = nil
	m.tracks = nil
	m.stopped = nil
	m.gatherDone = nil
	m.busy = false
	m.phase = PhaseIdle
	m.connState = ConnectionStateNew
	m.lastRemote = codec.Descriptor{}
	m.mu.Unlock()

	if e == nil {
		return nil
	}

	close(stopped)
	detach(e)

	for _, t := range tracks {
		t.Stop()
	}

	if err := e.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}

	util.LogDebug("session stopped")
	return nil
}

// Phase returns the current negotiation phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// ConnectionState returns the last connectivity state reported by the engine.
func (m *Manager) ConnectionState() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connState
}

// OnConnectionStateChange registers fn for every connectivity change of the
// current and future sessions. The returned func removes it.
func (m *Manager) OnConnectionStateChange(fn func(ConnectionState)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// OnTrack sets the handler for remote tracks.
func (m *Manager) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = fn
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// CreateOffer creates a local offer, waits for gathering to complete and
// returns the encoded connection code.
func (m *Manager) CreateOffer(ctx context.Context) (string, error) {
	return m.negotiate(ctx, codec.KindOffer)
}

// CreateAnswer answers the accepted remote offer, waits for gathering to
// complete and returns the encoded connection code.
func (m *Manager) CreateAnswer(ctx context.Context) (string, error) {
	return m.negotiate(ctx, codec.KindAnswer)
}

func (m *Manager) negotiate(ctx context.Context, kind codec.Kind) (string, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return "", ErrOperationInProgress
	}
	if err := m.checkLocalLocked(kind); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.busy = true
	e, stopped := m.engine, m.stopped
	done := make(chan struct{})
	m.gatherDone = done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.engine == e {
			m.busy = false
			if m.gatherDone == done {
				m.gatherDone = nil
			}
		}
		m.mu.Unlock()
	}()

	var (
		desc webrtc.SessionDescription
		err  error
	)
	if kind == codec.KindOffer {
		desc, err = e.CreateOffer(nil)
	} else {
		desc, err = e.CreateAnswer(nil)
	}
	if err != nil {
		return "", fmt.Errorf("create %s: %w", kind, err)
	}

	if err := e.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local %s: %w", kind, err)
	}

	if err := m.awaitGathering(ctx, e, done, stopped); err != nil {
		return "", err
	}

	local := e.LocalDescription()
	if local == nil || e.ICEGatheringState() != webrtc.ICEGatheringStateComplete {
		return "", fmt.Errorf("%w: local %s is not fully gathered", ErrInvalidState, kind)
	}

	d, err := codec.FromSessionDescription(*local)
	if err != nil {
		return "", err
	}
	blob, err := codec.Encode(d)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine != e {
		return "", fmt.Errorf("%w: session stopped", ErrInvalidState)
	}

	if kind == codec.KindOffer {
		m.phase = PhaseLocalOfferPending
	} else {
		m.phase = PhaseDescriptionExchanged
		m.advanceLocked()
	}

	util.LogDebug("local %s ready (%d chars)", kind, len(blob))
	return blob, nil
}

// awaitGathering blocks until gathering is complete, the session is stopped,
// ctx is done or the gather timeout expires.
func (m *Manager) awaitGathering(ctx context.Context, e Engine, done, stopped <-chan struct{}) error {
	if e.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return nil
	}

	timer := time.NewTimer(m.gatherTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-stopped:
		return fmt.Errorf("%w: session stopped while gathering", ErrInvalidState)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrGatheringTimeout, m.gatherTimeout)
	}
}

// SetRemoteDescription decodes a connection code from the other peer and
// applies it. Without a session one is started with no tracks, so a peer can
// answer without sharing anything.
func (m *Manager) SetRemoteDescription(blob string) error {
	d, err := codec.Decode(blob)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrOperationInProgress
	}
	if m.engine == nil {
		if d.Kind != codec.KindOffer {
			m.mu.Unlock()
			return fmt.Errorf("%w: received an answer but no offer was made", ErrInvalidState)
		}
		if err := m.startLocked(nil); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	if err := m.checkRemoteLocked(d); err != nil {
		m.mu.Unlock()
		return err
	}
	m.busy = true
	e := m.engine
	m.mu.Unlock()

	err = e.SetRemoteDescription(d.SessionDescription())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine != e {
		return fmt.Errorf("%w: session stopped", ErrInvalidState)
	}
	m.busy = false
	if err != nil {
		return fmt.Errorf("set remote %s: %w", d.Kind, err)
	}

	m.lastRemote = d
	if d.Kind == codec.KindOffer {
		m.phase = PhaseRemoteOfferPending
	} else {
		m.phase = PhaseDescriptionExchanged
		m.advanceLocked()
	}

	util.LogDebug("remote %s accepted", d.Kind)
	return nil
}

// ---------------------------------------------------------------------------
// Phase rules
// ---------------------------------------------------------------------------

func (m *Manager) checkLocalLocked(kind codec.Kind) error {
	if m.engine == nil {
		return fmt.Errorf("%w: session not started", ErrInvalidState)
	}

	switch kind {
	case codec.KindOffer:
		// A fresh session or a new round after a completed exchange. One local
		// offer per round: a pending offer must be answered or Stopped first.
		if m.phase == PhaseInitialized || m.phase.exchanged() {
			return nil
		}
	case codec.KindAnswer:
		if m.phase == PhaseRemoteOfferPending {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot create %s while %s", ErrInvalidState, kind, m.phase)
}

func (m *Manager) checkRemoteLocked(d codec.Descriptor) error {
	if d == m.lastRemote {
		return fmt.Errorf("%w: duplicate remote %s", ErrInvalidState, d.Kind)
	}

	switch d.Kind {
	case codec.KindOffer:
		if m.phase == PhaseInitialized || m.phase.exchanged() {
			return nil
		}
	case codec.KindAnswer:
		if m.phase == PhaseLocalOfferPending {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot accept remote %s while %s", ErrInvalidState, d.Kind, m.phase)
}

// advanceLocked moves the phase along with the connectivity state once both
// descriptions are exchanged. A failure is final whatever the phase.
func (m *Manager) advanceLocked() {
	if m.phase == PhaseIdle {
		return
	}
	if m.connState == ConnectionStateFailed {
		m.phase = PhaseFailed
		return
	}
	if m.phase < PhaseDescriptionExchanged || m.phase == PhaseFailed {
		return
	}

	switch m.connState {
	case ConnectionStateChecking:
		m.phase = PhaseNegotiating
	case ConnectionStateConnected:
		m.phase = PhaseConnected
	case ConnectionStateDisconnected:
		m.phase = PhaseDisconnected
	case ConnectionStateClosed:
		m.phase = PhaseClosed
	}
}

// ---------------------------------------------------------------------------
// Engine callbacks
// ---------------------------------------------------------------------------

// attach registers the Manager's handlers on e. Every handler ignores events
// from an engine that is no longer current.
func (m *Manager) attach(e Engine) {
	e.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		m.handleGathering(e, s)
	})
	e.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		m.handleConnection(e, s)
	})
	e.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.handleTrack(e, track, receiver)
	})
}

// detach replaces the handlers on e with no-ops.
func detach(e Engine) {
	e.OnICEGatheringStateChange(func(webrtc.ICEGatheringState) {})
	e.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	e.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
}

func (m *Manager) handleGathering(e Engine, s webrtc.ICEGatheringState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine != e {
		return
	}
	util.LogDebug("ICE gathering state: %s", s)

	if s == webrtc.ICEGatheringStateComplete && m.gatherDone != nil {
		close(m.gatherDone)
		m.gatherDone = nil
	}
}

func (m *Manager) handleConnection(e Engine, s webrtc.ICEConnectionState) {
	state, ok := connectionStateFromICE(s)
	if !ok {
		return
	}

	m.mu.Lock()
	if m.engine != e {
		m.mu.Unlock()
		return
	}
	m.connState = state
	m.advanceLocked()
	subs := make([]subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	phase := m.phase
	m.mu.Unlock()

	util.LogDebug("ICE connection state: %s (phase %s)", s, phase)

	for _, sub := range subs {
		sub.fn(state)
	}
}

func (m *Manager) handleTrack(e Engine, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	m.mu.Lock()
	fn := m.onTrack
	current := m.engine == e
	m.mu.Unlock()

	if !current || fn == nil {
		return
	}
	fn(track, receiver)
}

// drainRTCP reads RTCP for a local track so interceptors keep working. It
// returns once the sender is closed.
func drainRTCP(sender *webrtc.RTPSender) {
	if sender == nil {
		return
	}
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
