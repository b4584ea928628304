// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/1ureka/peerlink/internal/session"
)

// Role represents which side of the exchange this peer plays.
type Role string

const (
	RoleOffer  Role = "offer"
	RoleAnswer Role = "answer"
)

// DefaultGatherTimeout bounds the wait for ICE candidate gathering.
const DefaultGatherTimeout = session.DefaultGatherTimeout

// Config stores all parameters gathered from CLI flags or interactive prompts.
type Config struct {
	Role          Role
	VideoFile     string        // IVF file sent as the video track
	AudioFile     string        // Ogg Opus file sent as the audio track
	Loop          bool          // restart media files at end of stream
	RecordDir     string        // directory for received tracks, empty disables recording
	ICEServers    []string      // STUN/TURN urls, nil uses the built-in STUN servers
	GatherTimeout time.Duration // upper bound for candidate gathering
	Debug         bool
}

// Default returns a Config with every optional field at its default.
func Default() Config {
	return Config{GatherTimeout: DefaultGatherTimeout}
}

// HasMedia reports whether any local media source is configured.
func (c Config) HasMedia() bool {
	return c.VideoFile != "" || c.AudioFile != ""
}

// Validate checks the config for contradictions before anything is started.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleOffer:
		if !c.HasMedia() {
			errs = append(errs, errors.New("offer role needs -video and/or -audio"))
		}
	case RoleAnswer:
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be 'offer' or 'answer'", c.Role))
	}

	if c.Loop && !c.HasMedia() {
		errs = append(errs, errors.New("-loop given without any media file"))
	}

	if c.GatherTimeout <= 0 {
		errs = append(errs, fmt.Errorf("gather timeout must be positive, got %s", c.GatherTimeout))
	}

	for _, u := range c.ICEServers {
		if !validICEURL(u) {
			errs = append(errs, fmt.Errorf("invalid ICE server url %q", u))
		}
	}

	return errors.Join(errs...)
}

// ParseICEServers splits a comma separated url list. An empty string yields
// nil (built-in defaults); "none" yields an empty, non-nil list.
func ParseICEServers(raw string) []string {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return nil
	case "none":
		return []string{}
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validICEURL(u string) bool {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(u, scheme) && len(u) > len(scheme) {
			return true
		}
	}
	return false
}
