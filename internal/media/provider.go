// Package media supplies local tracks from media files and records the
// tracks received from the other peer.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/peerlink/internal/util"
)

// ErrMediaUnavailable is returned when no source could be opened. It is not
// fatal: the caller may fix the input and try again, or continue receive-only.
var ErrMediaUnavailable = errors.New("media unavailable")

const (
	defaultFrameDuration = 33 * time.Millisecond
	opusSampleRate       = 48000
)

// Config selects the files played as local tracks.
type Config struct {
	VideoFile string // IVF container, VP8 / VP9 / AV1
	AudioFile string // Ogg container, Opus
	Loop      bool   // restart at end of file instead of ending the track
}

// Provider opens the configured files as live tracks.
type Provider struct {
	cfg Config
}

// NewProvider creates a Provider for cfg.
func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Acquire opens every configured source and starts pacing its samples into
// a track. All tracks share one stream id so the receiver can group them.
func (p *Provider) Acquire(ctx context.Context) ([]*Track, error) {
	if p.cfg.VideoFile == "" && p.cfg.AudioFile == "" {
		return nil, fmt.Errorf("%w: no video or audio file configured", ErrMediaUnavailable)
	}

	streamID := "peerlink-" + uuid.NewString()
	var tracks []*Track

	fail := func(err error) ([]*Track, error) {
		for _, t := range tracks {
			t.Stop()
		}
		return nil, err
	}

	if p.cfg.VideoFile != "" {
		path := p.cfg.VideoFile
		open := func() (frameSource, error) {
			src, err := openIVF(path)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		src, err := openIVF(path)
		if err != nil {
			return fail(err)
		}
		t, err := newTrack(ctx, src.capability, "video", streamID)
		if err != nil {
			_ = src.close()
			return fail(err)
		}
		go t.run(src, open, p.cfg.Loop)
		tracks = append(tracks, t)
		util.LogDebug("video track from %s (%s)", path, t.local.Codec().MimeType)
	}

	if p.cfg.AudioFile != "" {
		path := p.cfg.AudioFile
		open := func() (frameSource, error) {
			src, err := openOgg(path)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		src, err := openOgg(path)
		if err != nil {
			return fail(err)
		}
		capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}
		t, err := newTrack(ctx, capability, "audio", streamID)
		if err != nil {
			_ = src.close()
			return fail(err)
		}
		go t.run(src, open, p.cfg.Loop)
		tracks = append(tracks, t)
		util.LogDebug("audio track from %s", path)
	}

	return tracks, nil
}

// ---------------------------------------------------------------------------
// Track
// ---------------------------------------------------------------------------

// Track is a local track fed from a file. It ends when the file is exhausted
// (without Loop), on a read error, or on Stop.
type Track struct {
	local *webrtc.TrackLocalStaticSample
	kind  string

	ctx    context.Context
	cancel context.CancelFunc
	ended  chan struct{}
	err    error // set before ended is closed
}

func newTrack(ctx context.Context, capability webrtc.RTPCodecCapability, kind, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(capability, kind, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	tCtx, cancel := context.WithCancel(ctx)
	return &Track{
		local:  local,
		kind:   kind,
		ctx:    tCtx,
		cancel: cancel,
		ended:  make(chan struct{}),
	}, nil
}

// Local returns the pion track to attach to a PeerConnection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Kind returns "video" or "audio".
func (t *Track) Kind() string { return t.kind }

// Stop ends the track. Safe to call more than once.
func (t *Track) Stop() { t.cancel() }

// Ended is closed once the track stops producing samples.
func (t *Track) Ended() <-chan struct{} { return t.ended }

// Err returns why the track ended on its own, or nil. Only meaningful after
// Ended is closed.
func (t *Track) Err() error {
	select {
	case <-t.ended:
		return t.err
	default:
		return nil
	}
}

// run is the pacing goroutine: one sample, then wait for its duration.
func (t *Track) run(src frameSource, reopen func() (frameSource, error), loop bool) {
	defer close(t.ended)
	defer func() { _ = src.close() }()

	written := 0
	for {
		data, duration, err := src.next()

		if errors.Is(err, io.EOF) {
			if !loop || written == 0 {
				util.LogDebug("%s track reached end of file", t.kind)
				return
			}
			_ = src.close()
			next, err := reopen()
			if err != nil {
				src = nopSource{}
				t.err = err
				return
			}
			src = next
			written = 0
			continue
		}
		if err != nil {
			t.err = fmt.Errorf("read %s: %w", t.kind, err)
			util.LogWarning("%v", t.err)
			return
		}

		if err := t.local.WriteSample(pionmedia.Sample{Data: data, Duration: duration}); err != nil {
			t.err = fmt.Errorf("write %s sample: %w", t.kind, err)
			return
		}
		util.Stats.AddSample(len(data))
		written++

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(duration):
		}
	}
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// frameSource yields samples with their play-out duration; io.EOF at the end.
type frameSource interface {
	next() ([]byte, time.Duration, error)
	close() error
}

// nopSource stands in after a failed reopen so the deferred close is safe.
type nopSource struct{}

func (nopSource) next() ([]byte, time.Duration, error) { return nil, 0, io.EOF }
func (nopSource) close() error                         { return nil }

type ivfSource struct {
	file          *os.File
	reader        *ivfreader.IVFReader
	capability    webrtc.RTPCodecCapability
	frameDuration time.Duration
}

func openIVF(path string) (*ivfSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s is not an IVF file: %v", ErrMediaUnavailable, path, err)
	}

	var mimeType string
	switch header.FourCC {
	case "VP80":
		mimeType = webrtc.MimeTypeVP8
	case "VP90":
		mimeType = webrtc.MimeTypeVP9
	case "AV01":
		mimeType = webrtc.MimeTypeAV1
	default:
		_ = file.Close()
		return nil, fmt.Errorf("%w: unsupported IVF codec %q", ErrMediaUnavailable, header.FourCC)
	}

	frameDuration := defaultFrameDuration
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	return &ivfSource{
		file:          file,
		reader:        reader,
		capability:    webrtc.RTPCodecCapability{MimeType: mimeType, ClockRate: 90000},
		frameDuration: frameDuration,
	}, nil
}

func (s *ivfSource) next() ([]byte, time.Duration, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if err != nil {
		return nil, 0, err
	}
	return frame, s.frameDuration, nil
}

func (s *ivfSource) close() error { return s.file.Close() }

type oggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func openOgg(path string) (*oggSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s is not an Ogg file: %v", ErrMediaUnavailable, path, err)
	}

	return &oggSource{file: file, reader: reader}, nil
}

// next returns one Ogg page; its duration is derived from the granule
// position delta, which counts 48kHz samples for Opus.
func (s *oggSource) next() ([]byte, time.Duration, error) {
	page, header, err := s.reader.ParseNextPage()
	if err != nil {
		return nil, 0, err
	}

	var samples uint64
	if header.GranulePosition > s.lastGranule {
		samples = header.GranulePosition - s.lastGranule
	}
	s.lastGranule = header.GranulePosition

	return page, time.Duration(samples) * time.Second / opusSampleRate, nil
}

func (s *oggSource) close() error { return s.file.Close() }
