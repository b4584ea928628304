// Peerlink — CLI entry point.
//
// This tool streams media files between two peers over WebRTC. There is no
// signaling server: each side copies a connection code and hands it to the
// other through any channel they like (chat, email, ...).
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -video, -audio, -loop, -record, -stun, -gather-timeout).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/peerlink/internal/app"
	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()

	// CLI flags.
	role := flag.String("role", "", "Role: offer or answer")
	flag.StringVar(&cfg.VideoFile, "video", "", "IVF file (VP8/VP9/AV1) to send as video")
	flag.StringVar(&cfg.AudioFile, "audio", "", "Ogg Opus file to send as audio")
	flag.BoolVar(&cfg.Loop, "loop", false, "Restart media files when they end")
	flag.StringVar(&cfg.RecordDir, "record", "", "Directory to save received VP8/Opus tracks")
	stunFlag := flag.String("stun", "", "Comma separated STUN/TURN urls, or 'none' (default: public STUN)")
	flag.DurationVar(&cfg.GatherTimeout, "gather-timeout", config.DefaultGatherTimeout, "Upper bound for ICE candidate gathering")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	trace := flag.Bool("trace", false, "Also show WebRTC internals (implies -debug)")
	flag.Parse()

	cfg.ICEServers = config.ParseICEServers(*stunFlag)

	switch {
	case *trace:
		util.EnableTrace()
	case cfg.Debug:
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peerlink — v%s", version))
	pterm.Println()

	if *role == "" {
		// No -role flag → interactive mode.
		askInteractive(&cfg)
	} else {
		cfg.Role = config.Role(*role)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx, cfg, app.TerminalExchange{}); err != nil {
		util.LogError("session ended: %v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askInteractive fills cfg from prompts when no -role flag is provided.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Offer  — Start a session and send media", "Answer — Join a session started by the other peer"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Offer") {
		cfg.Role = config.RoleOffer
		for {
			cfg.VideoFile = askPath("Video file (.ivf, leave empty for none)")
			cfg.AudioFile = askPath("Audio file (.ogg, leave empty for none)")
			if cfg.HasMedia() {
				break
			}
			util.LogWarning("the offering side needs at least one media file")
			pterm.Println()
		}
	} else {
		cfg.Role = config.RoleAnswer
		cfg.VideoFile = askPath("Video file to send back (.ivf, leave empty to only receive)")
	}

	if cfg.HasMedia() {
		cfg.Loop, _ = pterm.DefaultInteractiveConfirm.
			WithDefaultText("Loop media files").
			Show()
		pterm.Println()
	}

	cfg.RecordDir = askPath("Directory to record received media (leave empty to skip)")
}

// askPath prompts for an optional path, stripping quotes left by drag and drop.
func askPath(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return strings.Trim(strings.TrimSpace(raw), `"'`)
}
