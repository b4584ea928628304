package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/1ureka/peerlink/internal/util"
)

// rtpWriter is satisfied by the pion IVF and Ogg writers.
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Recorder consumes remote tracks. VP8 video is saved as IVF and Opus audio
// as Ogg under dir; anything else, or everything when dir is empty, is read
// and discarded so the receive buffers keep draining.
type Recorder struct {
	dir string
	seq atomic.Int64
}

// NewRecorder returns a Recorder writing into dir. An empty dir disables
// writing files.
func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir}
}

// HandleTrack reads track until it ends. It blocks, matching how pion
// invokes OnTrack handlers on their own goroutine.
func (r *Recorder) HandleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := track.Kind().String()
	mimeType := track.Codec().MimeType
	util.LogInfo("Receiving %s track (%s)", kind, mimeType)

	w, path, err := r.open(mimeType, kind)
	if err != nil {
		util.LogWarning("Not recording %s track: %v", kind, err)
	} else if w != nil {
		util.LogInfo("Recording %s track to %s", kind, path)
	}

	consume(track, w, path, kind)
}

// rtpReader is satisfied by *webrtc.TrackRemote.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// consume drains src until it fails, writing each packet to w while w keeps
// accepting them. w may be nil. w is closed exactly once, when it rejects a
// packet or when src ends.
func consume(src rtpReader, w rtpWriter, path, kind string) {
	recording := w != nil
	defer func() {
		if recording {
			closeWriter(w, path)
		}
	}()

	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("%s track read: %v", kind, err)
			}
			return
		}
		util.Stats.AddPacket(len(pkt.Payload))

		if !recording {
			continue
		}
		if err := writePacket(w, pkt); err != nil {
			util.LogWarning("Recording %s stopped: %v", path, err)
			recording = false
			closeWriter(w, path)
		}
	}
}

// writePacket hands pkt to w. The pion container writers index into the
// payload without checking its length, so a malformed remote packet panics;
// that is reported as an error instead.
func writePacket(w rtpWriter, pkt *rtp.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed packet: %v", r)
		}
	}()
	return w.WriteRTP(pkt)
}

func closeWriter(w rtpWriter, path string) {
	defer func() {
		if r := recover(); r != nil {
			util.LogWarning("Close %s: %v", path, r)
		}
	}()
	if err := w.Close(); err != nil {
		util.LogWarning("Close %s: %v", path, err)
	}
}

// open creates the container writer for mimeType, or returns a nil writer
// when the codec is not recordable or recording is disabled.
func (r *Recorder) open(mimeType, kind string) (rtpWriter, string, error) {
	if r.dir == "" {
		return nil, "", nil
	}

	var ext string
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		ext = "ivf"
	case strings.EqualFold(mimeType, webrtc.MimeTypeOpus):
		ext = "ogg"
	default:
		return nil, "", nil
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create record dir: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("remote-%s-%d.%s", kind, r.seq.Add(1), ext))

	var (
		w   rtpWriter
		err error
	)
	if ext == "ivf" {
		w, err = ivfwriter.New(path)
	} else {
		w, err = oggwriter.New(path, opusSampleRate, 2)
	}
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	return w, path, nil
}
