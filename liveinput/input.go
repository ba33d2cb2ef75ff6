// Package liveinput bridges a PortMidi input device into the timestamped
// perfharness.MIDIEvent shape a live host assembles into its per-block
// MIDIIn, the same way the teacher's DeviceMonitor bridges CoreAudio
// hotplug notifications into its own callback shape: a background
// goroutine polls the device on an adaptive interval and hands off
// whatever arrived, since PortMidi's own API is not realtime-safe to
// call from the audio thread.
package liveinput

import (
	"fmt"
	"sync"
	"time"

	"github.com/rakyll/portmidi"

	"github.com/shaban/perfharness"
)

// Source polls one open PortMidi input stream and reports MIDI short
// messages. It is the control-thread producer side of spec.md's MIDI
// input path: the harness itself only ever reads MIDI out of a Block,
// never off a device directly.
type Source struct {
	mu     sync.Mutex
	stream *portmidi.Stream
	closed bool

	pollInterval    time.Duration
	minPollInterval time.Duration
	maxPollInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

const (
	defaultMinPollInterval = 2 * time.Millisecond
	defaultMaxPollInterval = 20 * time.Millisecond
	bufferSize              = 1024
)

// Open initialises PortMidi (if not already) and opens deviceID for
// input. Call Close to release the stream; Close also calls
// portmidi.Terminate, whether or not another Source still uses the
// library.
func Open(deviceID portmidi.DeviceID) (*Source, error) {
	if err := portmidi.Initialize(); err != nil {
		return nil, fmt.Errorf("liveinput: initialise portmidi: %w", err)
	}
	stream, err := portmidi.NewInputStream(deviceID, bufferSize)
	if err != nil {
		_ = portmidi.Terminate()
		return nil, fmt.Errorf("liveinput: open input stream: %w", err)
	}
	return &Source{
		stream:          stream,
		pollInterval:    defaultMinPollInterval,
		minPollInterval: defaultMinPollInterval,
		maxPollInterval: defaultMaxPollInterval,
	}, nil
}

// DefaultDeviceID reports PortMidi's configured default input device.
func DefaultDeviceID() portmidi.DeviceID {
	return portmidi.DefaultInputDeviceID()
}

// Poll drains whatever events PortMidi is currently holding, without
// blocking. It is safe to call from a single control thread only; it is
// not safe to call from the audio thread.
func (s *Source) Poll() ([]perfharness.MIDIEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("liveinput: source closed")
	}

	ready, err := s.stream.Poll()
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}

	events, err := s.stream.Read(bufferSize)
	if err != nil {
		return nil, err
	}

	out := make([]perfharness.MIDIEvent, 0, len(events))
	for _, e := range events {
		out = append(out, perfharness.MIDIEvent{
			Message: perfharness.ShortMessage{byte(e.Status), byte(e.Data1), byte(e.Data2)},
		})
	}
	return out, nil
}

// Listen spawns a background goroutine that polls on an adaptive
// interval (fast while messages are arriving, backing off toward
// maxPollInterval when idle, mirroring the teacher's adaptive device
// monitor) and invokes onEvents with whatever batch it collected. It
// returns immediately; call Close to stop.
func (s *Source) Listen(onEvents func([]perfharness.MIDIEvent)) {
	s.mu.Lock()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		interval := s.minPollInterval
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				events, err := s.Poll()
				if err != nil {
					return
				}
				if len(events) > 0 {
					interval = s.minPollInterval
					onEvents(events)
				} else if interval < s.maxPollInterval {
					interval *= 2
					if interval > s.maxPollInterval {
						interval = s.maxPollInterval
					}
				}
				ticker.Reset(interval)
			}
		}
	}()
}

// Close stops any running Listen goroutine and releases the stream.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.stop
	done := s.done
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	s.mu.Lock()
	err := s.stream.Close()
	s.mu.Unlock()
	_ = portmidi.Terminate()
	return err
}
