package session

import (
	"fmt"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// Engine is the subset of *webrtc.PeerConnection the Manager drives.
type Engine interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	ICEGatheringState() webrtc.ICEGatheringState
	OnICEGatheringStateChange(f func(webrtc.ICEGatheringState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

var _ Engine = (*webrtc.PeerConnection)(nil)

// EngineFactory creates a fresh engine for each session.
type EngineFactory func() (Engine, error)

// DefaultSTUNServers are used for candidate gathering when none are
// configured. No TURN: the stream is meant to be direct.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// DefaultPLIInterval is how often a keyframe is requested from the remote
// video sender.
const DefaultPLIInterval = 3 * time.Second

// EngineConfig configures the pion PeerConnections built by NewEngineFactory.
type EngineConfig struct {
	// ICEServers lists STUN/TURN URLs. nil means DefaultSTUNServers; an empty
	// non-nil slice disables servers entirely.
	ICEServers []string

	// LoggerFactory receives pion's internal logs. nil keeps pion's default.
	LoggerFactory logging.LoggerFactory

	// Net overrides the network stack, e.g. with a vnet for tests.
	Net transport.Net

	// DisableMDNS turns off mDNS host candidates.
	DisableMDNS bool

	// PLIInterval overrides DefaultPLIInterval.
	PLIInterval time.Duration
}

// NewEngineFactory returns a factory producing PeerConnections with the
// default codecs, the default interceptors and a periodic PLI generator for
// received video.
func NewEngineFactory(cfg EngineConfig) (EngineFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	pliInterval := cfg.PLIInterval
	if pliInterval <= 0 {
		pliInterval = DefaultPLIInterval
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(pliInterval))
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	registry.Add(pli)

	settings := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		settings.LoggerFactory = cfg.LoggerFactory
	}
	if cfg.Net != nil {
		settings.SetNet(cfg.Net)
	}
	if cfg.DisableMDNS {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	servers := cfg.ICEServers
	if servers == nil {
		servers = DefaultSTUNServers
	}
	pcConfig := webrtc.Configuration{}
	if len(servers) > 0 {
		pcConfig.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}

	return func() (Engine, error) {
		pc, err := api.NewPeerConnection(pcConfig)
		if err != nil {
			return nil, err
		}
		return pc, nil
	}, nil
}
