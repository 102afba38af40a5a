package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/auricle-dev/auricle/pkg/audio"
)

// Reader delivers raw PCM16 audio from an io.ReadCloser as fixed-size
// frames. The data must be little-endian int16 samples at the declared
// rate and channel count, with no container header.
type Reader struct {
	rc     io.ReadCloser
	frames chan audio.AudioFrame

	sampleRate int
	channels   int
	realtime   bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewReader starts delivering frames from rc. The Reader owns rc and
// closes it when capture ends. With realtime set, frames are paced at
// capture speed; otherwise they are delivered as fast as the consumer
// takes them.
func NewReader(rc io.ReadCloser, sampleRate, channels int, realtime bool) *Reader {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	r := &Reader{
		rc:         rc,
		frames:     make(chan audio.AudioFrame, frameBuffer),
		sampleRate: sampleRate,
		channels:   channels,
		realtime:   realtime,
		done:       make(chan struct{}),
	}
	r.wg.Add(1)
	go r.readLoop()
	return r
}

// OpenFile starts delivering frames from a raw PCM16 file.
func OpenFile(path string, sampleRate, channels int, realtime bool) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %q: %w", path, err)
	}
	return NewReader(f, sampleRate, channels, realtime), nil
}

// OpenStdin starts delivering frames from standard input. Stdin itself is
// never closed; a Reader blocked on a quiet stdin only ends with the
// process.
func OpenStdin(sampleRate, channels int, realtime bool) *Reader {
	return NewReader(io.NopCloser(os.Stdin), sampleRate, channels, realtime)
}

// readLoop reads fixed-size frames until EOF, a read error, or Close.
// The final short frame is delivered truncated.
func (r *Reader) readLoop() {
	defer r.wg.Done()
	defer close(r.frames)

	frameBytes := frameSamples * r.channels * 2
	frameDur := time.Duration(frameSamples) * time.Second / time.Duration(r.sampleRate)

	var ticker *time.Ticker
	if r.realtime {
		ticker = time.NewTicker(frameDur)
		defer ticker.Stop()
	}

	var elapsed time.Duration
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(r.rc, buf)
		if n > 0 {
			// Drop a trailing half sample from a truncated source.
			n -= n % 2
		}
		if n > 0 {
			frame := audio.AudioFrame{
				Data:       buf[:n],
				SampleRate: r.sampleRate,
				Channels:   r.channels,
				Timestamp:  elapsed,
			}
			elapsed += frame.Duration()
			select {
			case r.frames <- frame:
			case <-r.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !isClosed(err) {
				slog.Warn("capture read failed", "err", err)
			}
			return
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-r.done:
				return
			}
		} else {
			select {
			case <-r.done:
				return
			default:
			}
		}
	}
}

// isClosed reports whether err is the result of Close racing a pending
// read on the underlying file.
func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed)
}

// Frames returns the frame channel. It is closed at end of input.
func (r *Reader) Frames() <-chan audio.AudioFrame { return r.frames }

// Close stops delivery and closes the underlying reader.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		// Closing the reader unblocks a pending read on a real file.
		r.closeErr = r.rc.Close()
		r.wg.Wait()
	})
	return r.closeErr
}

// Ensure Reader implements Source at compile time.
var _ Source = (*Reader)(nil)
