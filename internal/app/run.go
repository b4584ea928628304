// Package app contains the top-level orchestration for the offer and answer
// roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/peerlink/internal/codec"
	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/session"
	"github.com/1ureka/peerlink/internal/status"
	"github.com/1ureka/peerlink/internal/util"
)

// Run drives one session for cfg.Role:
//  1. Acquire local media (required when offering, optional when answering)
//  2. Exchange connection codes through ex
//  3. Stream until ctx is cancelled or the local media ends
//
// opts are applied after the defaults derived from cfg, so tests can swap
// the engine factory.
func Run(ctx context.Context, cfg config.Config, ex Exchange, opts ...session.Option) error {
	factory, err := session.NewEngineFactory(session.EngineConfig{
		ICEServers:    cfg.ICEServers,
		LoggerFactory: util.NewPionLoggerFactory(),
	})
	if err != nil {
		return fmt.Errorf("create engine factory: %w", err)
	}

	m := session.NewManager(append([]session.Option{
		session.WithEngineFactory(factory),
		session.WithGatherTimeout(cfg.GatherTimeout),
	}, opts...)...)
	defer func() {
		if err := m.Stop(); err != nil {
			util.LogWarning("stop session: %v", err)
		}
	}()

	obs := status.New(logStatus)
	detach := obs.Attach(m)
	defer detach()

	m.OnTrack(media.NewRecorder(cfg.RecordDir).HandleTrack)

	// ── 1. Local media ─────────────────────────────────────────────────
	tracks, err := acquire(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, t := range tracks {
			t.Stop()
		}
	}()

	// ── 2. Code exchange ───────────────────────────────────────────────
	switch cfg.Role {
	case config.RoleOffer:
		err = runOffer(ctx, m, tracks, ex)
	case config.RoleAnswer:
		err = runAnswer(ctx, m, tracks, ex)
	default:
		err = fmt.Errorf("unknown role %q", cfg.Role)
	}
	if err != nil {
		return err
	}

	util.LogSuccess("Codes exchanged, waiting for the peer-to-peer connection")
	util.StartStatsReporter(ctx)

	// ── 3. Stream ──────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case <-firstEnded(endedSignals(tracks)...):
		util.LogInfo("Local media ended, closing the session")
	}
	return nil
}

// acquire opens the configured media. A failure is fatal for the offer role;
// the answer role falls back to receive-only.
func acquire(ctx context.Context, cfg config.Config) ([]*media.Track, error) {
	if cfg.Role == config.RoleAnswer && !cfg.HasMedia() {
		return nil, nil
	}

	tracks, err := media.NewProvider(media.Config{
		VideoFile: cfg.VideoFile,
		AudioFile: cfg.AudioFile,
		Loop:      cfg.Loop,
	}).Acquire(ctx)
	if err == nil {
		return tracks, nil
	}

	if cfg.Role == config.RoleAnswer && errors.Is(err, media.ErrMediaUnavailable) {
		util.LogWarning("%v, continuing receive-only", err)
		return nil, nil
	}
	return nil, err
}

func runOffer(ctx context.Context, m *session.Manager, tracks []*media.Track, ex Exchange) error {
	if err := m.Start(localTracks(tracks)); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	util.LogInfo("Gathering network candidates...")
	offer, err := m.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := ex.Publish(codec.KindOffer, offer); err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}

	return receiveRemote(ctx, m, ex, codec.KindAnswer, "Paste the answer code from the other peer")
}

func runAnswer(ctx context.Context, m *session.Manager, tracks []*media.Track, ex Exchange) error {
	// Without media the first pasted offer starts the session implicitly.
	if len(tracks) > 0 {
		if err := m.Start(localTracks(tracks)); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}

	if err := receiveRemote(ctx, m, ex, codec.KindOffer, "Paste the offer code from the other peer"); err != nil {
		return err
	}

	util.LogInfo("Gathering network candidates...")
	answer, err := m.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := ex.Publish(codec.KindAnswer, answer); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	return nil
}

// receiveRemote prompts until a code of the wanted kind is accepted. Codes
// that do not decode, or decode to the wrong kind, are reported and the
// operator is asked again; any other error ends the session.
func receiveRemote(ctx context.Context, m *session.Manager, ex Exchange, want codec.Kind, prompt string) error {
	for {
		blob, err := ex.Receive(ctx, prompt)
		if err != nil {
			return fmt.Errorf("read %s code: %w", want, err)
		}

		d, err := codec.Decode(blob)
		if err != nil {
			util.LogWarning("That is not a valid connection code, please paste it again")
			continue
		}
		if d.Kind != want {
			util.LogWarning("That is an %s code, the %s code is needed here", d.Kind, want)
			continue
		}

		if err := m.SetRemoteDescription(blob); err != nil {
			return fmt.Errorf("apply %s: %w", want, err)
		}
		return nil
	}
}

func localTracks(tracks []*media.Track) []session.LocalTrack {
	out := make([]session.LocalTrack, len(tracks))
	for i, t := range tracks {
		out[i] = t
	}
	return out
}

func endedSignals(tracks []*media.Track) []<-chan struct{} {
	out := make([]<-chan struct{}, len(tracks))
	for i, t := range tracks {
		out[i] = t.Ended()
	}
	return out
}

// firstEnded returns a channel closed as soon as any of ended is closed: the
// session stops sharing when one of its sources runs out. With no inputs it
// returns nil, which blocks forever in a select.
func firstEnded(ended ...<-chan struct{}) <-chan struct{} {
	if len(ended) == 0 {
		return nil
	}
	done := make(chan struct{})
	var once sync.Once
	for _, ch := range ended {
		ch := ch
		go func() {
			<-ch
			once.Do(func() { close(done) })
		}()
	}
	return done
}

func logStatus(s status.Status) {
	switch {
	case s.Connected:
		util.LogSuccess("Status: %s", s.Label)
	case s.Label == "Connection failed":
		util.LogError("Status: %s", s.Label)
	default:
		util.LogInfo("Status: %s", s.Label)
	}
}
