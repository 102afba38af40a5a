package capture

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/auricle-dev/auricle/pkg/audio"
)

// Mic captures PCM16 frames from a PortAudio input device.
type Mic struct {
	stream *portaudio.Stream
	frames chan audio.AudioFrame

	sampleRate int
	channels   int
	log        *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// OpenMic initialises PortAudio and starts capturing from an input device.
// A non-empty device narrows selection to input devices whose name contains
// it, case-insensitively; empty picks the system default input.
//
// The caller must Close the returned Mic; Close also terminates PortAudio,
// so open at most one Mic at a time.
func OpenMic(sampleRate, channels int, device string, log *slog.Logger) (*Mic, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	if log == nil {
		log = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: initialising portaudio: %w", err)
	}

	m := &Mic{
		frames:     make(chan audio.AudioFrame, frameBuffer),
		sampleRate: sampleRate,
		channels:   channels,
		log:        log,
		done:       make(chan struct{}),
	}

	buf := make([]int16, frameSamples*channels)
	stream, err := m.openStream(device, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	m.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("capture: starting stream: %w", err)
	}

	m.wg.Add(1)
	go m.readLoop(buf)
	return m, nil
}

// openStream opens the default input stream, or a named device when a
// filter is given.
func (m *Mic) openStream(device string, buf []int16) (*portaudio.Stream, error) {
	if device == "" {
		s, err := portaudio.OpenDefaultStream(m.channels, 0, float64(m.sampleRate), frameSamples, buf)
		if err != nil {
			return nil, fmt.Errorf("capture: opening default input: %w", err)
		}
		return s, nil
	}

	dev, err := findInputDevice(device)
	if err != nil {
		return nil, err
	}
	m.log.Info("capture device selected", "device", dev.Name)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: m.channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.sampleRate),
		FramesPerBuffer: frameSamples,
	}
	s, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("capture: opening device %q: %w", dev.Name, err)
	}
	return s, nil
}

// findInputDevice returns the first input device whose name contains
// filter, case-insensitively.
func findInputDevice(filter string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: listing devices: %w", err)
	}
	want := strings.ToLower(filter)
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("capture: no input device matching %q", filter)
}

// readLoop blocks on the device and fans frames out until stopped. Each
// read fills one detector-sized frame, so the loop wakes every 80 ms.
func (m *Mic) readLoop(buf []int16) {
	defer m.wg.Done()
	defer close(m.frames)

	start := time.Now()
	for {
		select {
		case <-m.done:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			select {
			case <-m.done:
				// Close aborted the pending read; not a failure.
			default:
				m.log.Error("capture read failed", "err", err)
			}
			return
		}

		frame := audio.AudioFrame{
			Data:       audio.EncodePCM16(buf),
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			Timestamp:  time.Since(start),
		}

		select {
		case m.frames <- frame:
		default:
			m.log.Debug("capture backlog full, dropping frame")
		}
	}
}

// Frames returns the captured frame channel. It is closed once the device
// stops delivering.
func (m *Mic) Frames() <-chan audio.AudioFrame { return m.frames }

// Close stops the read loop, closes the stream, and terminates PortAudio.
func (m *Mic) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		// Abort discards queued buffers and unblocks a pending Read.
		err := m.stream.Abort()
		m.wg.Wait()
		if cerr := m.stream.Close(); err == nil {
			err = cerr
		}
		if terr := portaudio.Terminate(); err == nil {
			err = terr
		}
		m.closeErr = err
	})
	return m.closeErr
}

// Ensure Mic implements Source at compile time.
var _ Source = (*Mic)(nil)
