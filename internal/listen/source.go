package listen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FrameSource produces audio frames in order. Next returns io.EOF once the
// source is exhausted; any other error is terminal. Sources are single pass.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Chunker slices a byte stream into frames of a fixed size. Every frame is
// exactly size bytes except a trailing remainder when the stream does not
// end on a frame boundary.
type Chunker struct {
	r    io.Reader
	size int
	done bool
}

// NewChunker returns a Chunker reading from r
func NewChunker(r io.Reader, size int) (*Chunker, error) {
	if size <= 0 {
		return nil, &Error{Kind: KindConfiguration, Op: "new chunker", Err: fmt.Errorf("frame size must be positive, got %d", size)}
	}
	return &Chunker{r: r, size: size}, nil
}

// Next returns the next frame. It blocks while the underlying reader does.
func (c *Chunker) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	default:
		c.done = true
		return nil, wrap(KindIO, "read frame", err)
	}
}

// ReaderSource is a paced FrameSource over an io.Reader. Each frame is held
// back by delay before it is returned, modeling real-time capture.
type ReaderSource struct {
	chunker *Chunker
	delay   time.Duration
}

// NewReaderSource chunks r into frames of size bytes, pacing each by delay
func NewReaderSource(r io.Reader, size int, delay time.Duration) (*ReaderSource, error) {
	c, err := NewChunker(r, size)
	if err != nil {
		return nil, err
	}
	return &ReaderSource{chunker: c, delay: delay}, nil
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := s.chunker.Next()
	if err != nil {
		return nil, err
	}

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return frame, nil
}

// FileSource is a ReaderSource over an open file
type FileSource struct {
	*ReaderSource
	file *os.File
}

// OpenFile opens path for streaming in frames of size bytes paced by delay
func OpenFile(path string, size int, delay time.Duration) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap(KindIO, "open audio file", err)
	}
	rs, err := NewReaderSource(f, size, delay)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{ReaderSource: rs, file: f}, nil
}

func (s *FileSource) Close() error {
	return s.file.Close()
}

// LiveSource relays frames pushed by an external producer goroutine.
// The handoff holds at most one frame: Push blocks until the consumer
// drained the previous one.
type LiveSource struct {
	frames chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func NewLiveSource() *LiveSource {
	return &LiveSource{
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
}

// Push hands frame to the consumer. It returns ErrSourceClosed once the
// source was finished or failed, and ctx.Err() if ctx ends first.
func (l *LiveSource) Push(ctx context.Context, frame []byte) error {
	select {
	case <-l.done:
		return ErrSourceClosed
	default:
	}

	select {
	case l.frames <- frame:
		return nil
	case <-l.done:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish ends the stream cleanly. Frames already handed off are still delivered.
func (l *LiveSource) Finish() {
	l.end(nil)
}

// Fail ends the stream with a terminal error
func (l *LiveSource) Fail(err error) {
	l.end(wrap(KindIO, "live source", err))
}

func (l *LiveSource) end(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	close(l.done)
}

func (l *LiveSource) Next(ctx context.Context) ([]byte, error) {
	// Drain a pending frame before reporting the end
	select {
	case frame := <-l.frames:
		return frame, nil
	default:
	}

	select {
	case frame := <-l.frames:
		return frame, nil
	case <-l.done:
		select {
		case frame := <-l.frames:
			return frame, nil
		default:
		}
		l.mu.Lock()
		err := l.err
		l.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
