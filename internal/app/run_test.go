package app

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peerlink/internal/codec"
	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/session"
	"github.com/1ureka/peerlink/internal/session/sessiontest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type published struct {
	kind codec.Kind
	blob string
}

// scriptedExchange answers prompts from a fixed list, then blocks until the
// context ends.
type scriptedExchange struct {
	mu      sync.Mutex
	replies []string
	prompts []string

	published chan published
}

func newScriptedExchange(replies ...string) *scriptedExchange {
	return &scriptedExchange{replies: replies, published: make(chan published, 4)}
}

func (s *scriptedExchange) Publish(kind codec.Kind, blob string) error {
	s.published <- published{kind, blob}
	return nil
}

func (s *scriptedExchange) Receive(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return "", ctx.Err()
}

func (s *scriptedExchange) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func fakeEngines(f *sessiontest.Factory) session.Option {
	return session.WithEngineFactory(func() (session.Engine, error) { return f.New() })
}

func encode(t *testing.T, kind codec.Kind, sdp string) string {
	t.Helper()
	blob, err := codec.Encode(codec.Descriptor{Kind: kind, SDP: sdp})
	require.NoError(t, err)
	return blob
}

// writeIVF writes a short VP8 IVF clip with 1ms frames.
func writeIVF(t *testing.T, frames int) string {
	t.Helper()
	buf := make([]byte, 32)
	copy(buf[0:4], "DKIF")
	binary.LittleEndian.PutUint16(buf[6:], 32)
	copy(buf[8:12], "VP80")
	binary.LittleEndian.PutUint32(buf[16:], 1000)
	binary.LittleEndian.PutUint32(buf[20:], 1)
	binary.LittleEndian.PutUint32(buf[24:], uint32(frames))
	for i := 0; i < frames; i++ {
		hdr := make([]byte, 12)
		binary.LittleEndian.PutUint32(hdr[0:], 2)
		buf = append(buf, hdr...)
		buf = append(buf, 0x10, byte(i))
	}
	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func runAsync(ctx context.Context, cfg config.Config, ex Exchange, opts ...session.Option) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, ex, opts...) }()
	return done
}

func waitPublished(t *testing.T, ex *scriptedExchange) published {
	t.Helper()
	select {
	case p := <-ex.published:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was published")
		return published{}
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestAnswerRepromptsOnBadCodes verifies the answerer keeps asking until a
// decodable offer arrives, then publishes its answer.
func TestAnswerRepromptsOnBadCodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := sessiontest.NewFactory()
	ex := newScriptedExchange(
		"hello there",
		encode(t, codec.KindAnswer, "v=0\r\ns=wrong kind\r\n"),
		encode(t, codec.KindOffer, "v=0\r\ns=remote offer\r\n"),
	)

	cfg := config.Default()
	cfg.Role = config.RoleAnswer
	done := runAsync(ctx, cfg, ex, fakeEngines(f))

	p := waitPublished(t, ex)
	assert.Equal(t, codec.KindAnswer, p.kind)
	d, err := codec.Decode(p.blob)
	require.NoError(t, err)
	assert.Equal(t, codec.KindAnswer, d.Kind)
	assert.Contains(t, d.SDP, sessiontest.CandidateLine)
	assert.Equal(t, 3, ex.promptCount())

	engines := f.Created()
	require.Len(t, engines, 1)
	require.NotNil(t, engines[0].Remote())
	assert.Equal(t, "v=0\r\ns=remote offer\r\n", engines[0].Remote().SDP)
	assert.Empty(t, engines[0].Tracks())

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.True(t, engines[0].Closed())
}

// TestOfferPublishesThenAppliesAnswer covers the full offering side with a
// real media file.
func TestOfferPublishesThenAppliesAnswer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := sessiontest.NewFactory()
	ex := newScriptedExchange(
		"O:not-base64!!",
		encode(t, codec.KindAnswer, "v=0\r\ns=remote answer\r\n"),
	)

	cfg := config.Default()
	cfg.Role = config.RoleOffer
	cfg.VideoFile = writeIVF(t, 3)
	cfg.Loop = true
	done := runAsync(ctx, cfg, ex, fakeEngines(f))

	p := waitPublished(t, ex)
	assert.Equal(t, codec.KindOffer, p.kind)

	engines := f.Created()
	require.Len(t, engines, 1)
	assert.Len(t, engines[0].Tracks(), 1)
	assert.Eventually(t, func() bool { return engines[0].Remote() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "v=0\r\ns=remote answer\r\n", engines[0].Remote().SDP)
	assert.Equal(t, 2, ex.promptCount())

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.True(t, engines[0].Closed())
}

// TestOfferEndsWithMedia verifies Run returns once a non-looping clip ends.
func TestOfferEndsWithMedia(t *testing.T) {
	f := sessiontest.NewFactory()
	ex := newScriptedExchange(encode(t, codec.KindAnswer, "v=0\r\n"))

	cfg := config.Default()
	cfg.Role = config.RoleOffer
	cfg.VideoFile = writeIVF(t, 2)

	done := runAsync(context.Background(), cfg, ex, fakeEngines(f))
	waitPublished(t, ex)
	require.NoError(t, waitDone(t, done))
}

func TestOfferWithoutMediaFails(t *testing.T) {
	f := sessiontest.NewFactory()
	ex := newScriptedExchange()

	cfg := config.Default()
	cfg.Role = config.RoleOffer
	cfg.VideoFile = filepath.Join(t.TempDir(), "missing.ivf")

	err := Run(context.Background(), cfg, ex, fakeEngines(f))
	require.ErrorIs(t, err, media.ErrMediaUnavailable)
	assert.Empty(t, f.Created())
	assert.Zero(t, ex.promptCount())
}

// TestAnswerFallsBackToReceiveOnly verifies unreadable media does not stop
// the answering side.
func TestAnswerFallsBackToReceiveOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := sessiontest.NewFactory()
	ex := newScriptedExchange(encode(t, codec.KindOffer, "v=0\r\n"))

	cfg := config.Default()
	cfg.Role = config.RoleAnswer
	cfg.AudioFile = filepath.Join(t.TempDir(), "missing.ogg")
	done := runAsync(ctx, cfg, ex, fakeEngines(f))

	p := waitPublished(t, ex)
	assert.Equal(t, codec.KindAnswer, p.kind)
	require.Len(t, f.Created(), 1)
	assert.Empty(t, f.Created()[0].Tracks())

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestCancelWhileWaitingForCode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ex := newScriptedExchange()
	cfg := config.Default()
	cfg.Role = config.RoleAnswer
	done := runAsync(ctx, cfg, ex, fakeEngines(sessiontest.NewFactory()))

	require.Eventually(t, func() bool { return ex.promptCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	err := waitDone(t, done)
	require.ErrorIs(t, err, context.Canceled)
}

// TestFirstEndedStopsOnAnySource verifies the session ends when one source
// runs out, even while another is still playing.
func TestFirstEndedStopsOnAnySource(t *testing.T) {
	video := make(chan struct{})
	audio := make(chan struct{})
	defer close(audio)

	done := firstEnded(video, audio)
	select {
	case <-done:
		t.Fatal("ended before any source did")
	case <-time.After(20 * time.Millisecond):
	}

	close(video)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("short source ending did not end the session")
	}
}

func TestFirstEndedWithoutSources(t *testing.T) {
	assert.Nil(t, firstEnded())
}
