package sequencer

import (
	"log/slog"
	"os"
	"sync"

	"github.com/laenzlinger/rtpmidi-bridge/internal/midi"
)

// FileDevice implements Sequencer over a character device opened as a
// pair of *os.File handles (typically the same path opened twice, once
// read-only and once write-only, mirroring a raw MIDI serial/USB port).
type FileDevice struct {
	in  *os.File
	out *os.File

	mu     sync.Mutex
	queue  []midi.Event
	ready  chan struct{}
	logger *slog.Logger

	stop chan struct{}
}

// OpenFileDevice opens path for reading and writing as two independent
// file handles and starts the background reader goroutine that decodes
// inbound bytes into structured events.
func OpenFileDevice(path string, logger *slog.Logger) (*FileDevice, error) {
	in, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	out, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		in.Close()
		return nil, err
	}
	return NewFileDevice(in, out, logger), nil
}

// NewFileDevice wraps already-open read/write handles, starting the
// background reader goroutine. Exposed separately from OpenFileDevice so
// tests can drive it with an os.Pipe() pair instead of a real device.
func NewFileDevice(in, out *os.File, logger *slog.Logger) *FileDevice {
	if logger == nil {
		logger = slog.Default()
	}
	d := &FileDevice{
		in:     in,
		out:    out,
		ready:  make(chan struct{}, 1),
		logger: logger.With("subsystem", "sequencer"),
		stop:   make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *FileDevice) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := d.in.Read(buf)
		if err != nil {
			select {
			case <-d.stop:
				return
			default:
			}
			d.logger.Error("device read failed", "error", err)
			return
		}
		events := midi.Decode(buf[:n], d.logger)
		if len(events) == 0 {
			continue
		}

		d.mu.Lock()
		d.queue = append(d.queue, events...)
		d.mu.Unlock()

		select {
		case d.ready <- struct{}{}:
		default:
		}
	}
}

// Readable implements Sequencer.
func (d *FileDevice) Readable() <-chan struct{} { return d.ready }

// DrainOne implements Sequencer.
func (d *FileDevice) DrainOne() (midi.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return midi.Event{}, false
	}
	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, true
}

// Emit implements Sequencer, writing the event's encoded bytes to the
// device for local playback.
func (d *FileDevice) Emit(ev midi.Event) error {
	_, err := d.out.Write(midi.Encode([]midi.Event{ev}))
	return err
}

// Close implements Sequencer.
func (d *FileDevice) Close() error {
	close(d.stop)
	inErr := d.in.Close()
	outErr := d.out.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}
