// Package sequencer defines the local MIDI device collaborator: the
// boundary between the session engine and whatever local MIDI endpoint
// (ALSA sequencer, raw character device, virtual port) carries events to
// and from the machine this bridge runs on.
package sequencer

import (
	"github.com/laenzlinger/rtpmidi-bridge/internal/midi"
)

// Sequencer is the collaborator interface the event loop drives. It
// never touches network state; the engine is responsible for routing
// decoded/encoded events between a Sequencer and the session registry.
type Sequencer interface {
	// Readable returns a channel that becomes receivable when at least
	// one event is available from DrainOne.
	Readable() <-chan struct{}

	// DrainOne returns one structured MIDI event produced locally, or
	// ok=false if none is currently available.
	DrainOne() (ev midi.Event, ok bool)

	// Emit accepts a structured MIDI event received from the network
	// for local playback.
	Emit(ev midi.Event) error

	// Close releases the underlying device.
	Close() error
}
