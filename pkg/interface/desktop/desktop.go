package desktop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNilControls = errors.New("controls cant be nil")

const menu = "1. Unmute\n2. Mute\n3. Play sound\n4. Stop sound\n5. Peers\n6. Exit"

// Controls is what the console can change on a running call.
type Controls interface {
	SetCaptureMuted(muted bool)
	SetPlaybackMuted(muted bool)
	Peers() []string
	Backlog(peerID string) (time.Duration, error)
}

type DesktopInterface struct {
	controls Controls
	in       io.Reader
	out      io.Writer
}

func NewDesktopInterface(controls Controls, in io.Reader, out io.Writer) (*DesktopInterface, error) {
	if controls == nil {
		return nil, ErrNilControls
	}
	return &DesktopInterface{controls: controls, in: in, out: out}, nil
}

// StartDesktopInterface runs the menu until the user exits, input ends or
// ctx is done. The microphone starts muted.
func (di *DesktopInterface) StartDesktopInterface(ctx context.Context) error {
	log.Info().Msg("Preparing audio capture and playback")
	di.controls.SetCaptureMuted(true)
	di.controls.SetPlaybackMuted(false)

	fmt.Fprintln(di.out, "Desktop Interface Started\nBy default u are muted and sound is on")
	fmt.Fprintln(di.out, "Menu:")
	fmt.Fprintln(di.out, menu)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(di.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(di.out, "Enter choice: ")
		var input string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input = strings.TrimSpace(line)
		}

		switch input {
		case "1":
			fmt.Fprintln(di.out, "Unmuted")
			di.controls.SetCaptureMuted(false)
		case "2":
			fmt.Fprintln(di.out, "Muted")
			di.controls.SetCaptureMuted(true)
		case "3":
			fmt.Fprintln(di.out, "Playing sound")
			di.controls.SetPlaybackMuted(false)
		case "4":
			fmt.Fprintln(di.out, "Stopping sound")
			di.controls.SetPlaybackMuted(true)
		case "5":
			di.printPeers()
		case "6":
			fmt.Fprintln(di.out, "Exiting...")
			return nil
		default:
			fmt.Fprintln(di.out, "Invalid choice, please try again.")
		}
	}
}

func (di *DesktopInterface) printPeers() {
	peers := di.controls.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(di.out, "No peers connected")
		return
	}
	for _, id := range peers {
		backlog, err := di.controls.Backlog(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(di.out, "%s backlog %v\n", id, backlog)
	}
}
