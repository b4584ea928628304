package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/test"
	"github.com/pion/transport/v4/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peerlink/internal/codec"
	"github.com/1ureka/peerlink/internal/session"
	"github.com/1ureka/peerlink/internal/status"
)

// newVirtualPeer builds a Manager whose PeerConnections live on the given
// virtual network, with no STUN servers and no mDNS.
func newVirtualPeer(t *testing.T, n *vnet.Net) *session.Manager {
	t.Helper()
	f, err := session.NewEngineFactory(session.EngineConfig{
		ICEServers:  []string{},
		Net:         n,
		DisableMDNS: true,
	})
	require.NoError(t, err)

	m := session.NewManager(session.WithEngineFactory(f), session.WithGatherTimeout(10*time.Second))
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

// watchConnected attaches a Status Observer and returns a channel closed the
// first time it reports a connected status.
func watchConnected(m *session.Manager) <-chan struct{} {
	connected := make(chan struct{})
	var once sync.Once
	obs := status.New(func(s status.Status) {
		if s.Connected {
			once.Do(func() { close(connected) })
		}
	})
	obs.Attach(m)
	return connected
}

// TestEndToEndOverVirtualNetwork runs a full manual exchange between two
// managers: A offers with one video track, B answers without media.
func TestEndToEndOverVirtualNetwork(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	wan, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "1.2.3.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	offerNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"1.2.3.4"}})
	require.NoError(t, err)
	require.NoError(t, wan.AddNet(offerNet))

	answerNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"1.2.3.5"}})
	require.NoError(t, err)
	require.NoError(t, wan.AddNet(answerNet))

	require.NoError(t, wan.Start())
	defer func() { _ = wan.Stop() }()

	peerA := newVirtualPeer(t, offerNet)
	peerB := newVirtualPeer(t, answerNet)
	connectedA := watchConnected(peerA)
	connectedB := watchConnected(peerB)

	ctx := context.Background()

	// Peer A: start with a track and create the offer.
	require.NoError(t, peerA.Start([]session.LocalTrack{newFakeTrack(t, "video")}))
	blob1, err := peerA.CreateOffer(ctx)
	require.NoError(t, err)

	d1, err := codec.Decode(blob1)
	require.NoError(t, err)
	assert.Equal(t, codec.KindOffer, d1.Kind)
	assert.Contains(t, d1.SDP, "a=candidate:")
	assert.Contains(t, d1.SDP, "1.2.3.4")

	// Peer B: paste the offer (implicit start) and answer.
	require.NoError(t, peerB.SetRemoteDescription(blob1))
	blob2, err := peerB.CreateAnswer(ctx)
	require.NoError(t, err)

	d2, err := codec.Decode(blob2)
	require.NoError(t, err)
	assert.Equal(t, codec.KindAnswer, d2.Kind)
	assert.Contains(t, d2.SDP, "1.2.3.5")

	// Peer A: paste the answer.
	require.NoError(t, peerA.SetRemoteDescription(blob2))

	for name, ch := range map[string]<-chan struct{}{"A": connectedA, "B": connectedB} {
		select {
		case <-ch:
		case <-time.After(20 * time.Second):
			t.Fatalf("peer %s never reported Connected", name)
		}
	}

	assert.Equal(t, session.ConnectionStateConnected, peerA.ConnectionState())
	assert.Equal(t, session.ConnectionStateConnected, peerB.ConnectionState())
	waitPhase(t, peerA, session.PhaseConnected)
	waitPhase(t, peerB, session.PhaseConnected)

	require.NoError(t, peerA.Stop())
	require.NoError(t, peerB.Stop())
	assert.Equal(t, session.PhaseIdle, peerA.Phase())
	assert.Equal(t, session.PhaseIdle, peerB.Phase())
}
