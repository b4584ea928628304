package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/peerlink/internal/codec"
)

// Exchange is the out-of-band channel the operator uses to move connection
// codes between the two peers: chat, email, a sticky note.
type Exchange interface {
	// Publish shows a local code to the operator for copying.
	Publish(kind codec.Kind, blob string) error
	// Receive waits for the operator to paste the remote code.
	Receive(ctx context.Context, prompt string) (string, error)
}

// TerminalExchange prints codes to the terminal and reads pasted codes with
// the pterm text input.
type TerminalExchange struct{}

// Publish prints blob on its own line so it can be selected without any
// decoration around it.
func (TerminalExchange) Publish(kind codec.Kind, blob string) error {
	pterm.Println()
	pterm.DefaultSection.Printfln("Your %s code", kind)
	pterm.Info.Printfln("Send the code below to the other peer (%d characters).", len(blob))
	pterm.Println()
	fmt.Println(blob)
	pterm.Println()
	return nil
}

// Receive blocks on the prompt until a line is entered or ctx is done. The
// prompt goroutine is abandoned on cancellation; pterm offers no way to
// interrupt it.
func (TerminalExchange) Receive(ctx context.Context, prompt string) (string, error) {
	type reply struct {
		line string
		err  error
	}
	ch := make(chan reply, 1)

	go func() {
		line, err := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		ch <- reply{line, err}
	}()

	select {
	case r := <-ch:
		pterm.Println()
		return strings.TrimSpace(r.line), r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
