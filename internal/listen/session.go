package listen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/listen-stream/internal/observability"
)

const (
	DefaultKeepAliveInterval = 10 * time.Second
	DefaultResultCapacity    = 1

	closeGracePeriod = time.Second
)

// State is the lifecycle state of a Session
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// KeepAlivePolicy decides what a failed keep-alive write does to the session
type KeepAlivePolicy int

const (
	// KeepAliveLocal stops only the keep-alive duty
	KeepAliveLocal KeepAlivePolicy = iota
	// KeepAliveFatal fails the whole session
	KeepAliveFatal
)

type sessionConfig struct {
	resultCapacity    int
	keepAliveInterval time.Duration
	keepAlivePolicy   KeepAlivePolicy
	writeTimeout      time.Duration
	dialer            *websocket.Dialer
	logger            *zerolog.Logger
}

// SessionOption configures a Session
type SessionOption func(*sessionConfig)

// WithResultCapacity sets how many undelivered results may be buffered.
// Higher values let the receiver keep draining the socket while the
// consumer lags.
func WithResultCapacity(n int) SessionOption {
	return func(c *sessionConfig) { c.resultCapacity = n }
}

func WithKeepAliveInterval(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.keepAliveInterval = d }
}

func WithKeepAlivePolicy(p KeepAlivePolicy) SessionOption {
	return func(c *sessionConfig) { c.keepAlivePolicy = p }
}

// WithWriteTimeout bounds each socket write. Zero means no deadline.
func WithWriteTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.writeTimeout = d }
}

func WithDialer(d *websocket.Dialer) SessionOption {
	return func(c *sessionConfig) { c.dialer = d }
}

func WithLogger(l zerolog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = &l }
}

type writeRequest struct {
	messageType int
	data        []byte
	result      chan error
}

// Session is one live streaming transcription connection. Audio from the
// FrameSource is uploaded while results are delivered on Results().
type Session struct {
	id      string
	params  *Parameters
	source  FrameSource
	conn    *websocket.Conn
	cfg     sessionConfig
	logger  zerolog.Logger
	metrics *observability.Metrics

	state       atomic.Int32
	interrupted atomic.Bool

	results chan Result
	writes  chan writeRequest

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Connect performs the handshake and starts streaming source. Handshake
// errors are returned before any duty starts. Cancelling ctx ends the session.
func Connect(ctx context.Context, params *Parameters, source FrameSource, opts ...SessionOption) (*Session, error) {
	if params == nil {
		return nil, &Error{Kind: KindConfiguration, Op: "connect", Err: errors.New("parameters are required")}
	}
	if source == nil {
		return nil, &Error{Kind: KindConfiguration, Op: "connect", Err: errors.New("frame source is required")}
	}

	cfg := sessionConfig{
		resultCapacity:    DefaultResultCapacity,
		keepAliveInterval: DefaultKeepAliveInterval,
		keepAlivePolicy:   KeepAliveLocal,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.resultCapacity < 1 {
		return nil, &Error{Kind: KindConfiguration, Op: "connect", Err: fmt.Errorf("result capacity must be at least 1, got %d", cfg.resultCapacity)}
	}
	if cfg.keepAliveInterval <= 0 {
		return nil, &Error{Kind: KindConfiguration, Op: "connect", Err: fmt.Errorf("keep-alive interval must be positive, got %v", cfg.keepAliveInterval)}
	}

	id := observability.NewSessionID()
	logger := observability.WithSessionID(id)
	if cfg.logger != nil {
		logger = cfg.logger.With().Str("session_id", id).Logger()
	}

	s := &Session{
		id:      id,
		params:  params,
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewSessionMetrics(),
		results: make(chan Result, cfg.resultCapacity),
		writes:  make(chan writeRequest),
		done:    make(chan struct{}),
	}
	s.setState(StateConnecting)

	s.logger.Info().
		Str("endpoint", params.endpoint.String()).
		Bool("authenticated", params.HasCredential()).
		Bool("keep_alive", params.keepAlive).
		Msg("Connecting to streaming endpoint")

	conn, err := Dial(ctx, cfg.dialer, params)
	if err != nil {
		s.setState(StateFailed)
		s.metrics.RecordHandshakeFailure()
		s.logger.Error().Err(err).Msg("Streaming handshake failed")
		return nil, err
	}

	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setState(StateOpen)
	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Streaming session open")

	go s.run()
	return s, nil
}

// ID returns the session ID used in logs and metrics
func (s *Session) ID() string {
	return s.id
}

// Results returns the channel of parsed results and errors. It is closed
// once every duty has stopped.
func (s *Session) Results() <-chan Result {
	return s.results
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the session has fully ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns why it ended: nil after a
// remote close, a ConsumerClosed error after local cancellation, or the
// failure otherwise.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Close stops all duties, closes the connection and waits for teardown.
// Results not yet consumed are discarded.
func (s *Session) Close() error {
	s.cancel()
	err := s.Wait()
	if IsKind(err, KindConsumerClosed) {
		return nil
	}
	return err
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.results)

	g, ctx := errgroup.WithContext(s.ctx)

	g.Go(func() error { return s.writeLoop(ctx) })
	g.Go(func() error {
		s.sendLoop(ctx)
		return nil
	})
	if s.params.keepAlive {
		g.Go(func() error { return s.keepAliveLoop(ctx) })
	}
	g.Go(func() error {
		// The receiver ending is the authoritative end of the session
		defer s.cancel()
		return s.receiveLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.closeConn()
		return nil
	})

	err := g.Wait()
	if err == nil && s.interrupted.Load() {
		err = &Error{Kind: KindConsumerClosed, Op: "receive", Err: ErrConsumerClosed}
	}
	s.err = err

	failed := err != nil && !IsKind(err, KindConsumerClosed)
	if failed {
		s.setState(StateFailed)
	} else {
		s.setState(StateClosed)
	}
	s.metrics.RecordSessionEnd(failed)

	event := s.logger.Info()
	if failed {
		event = s.logger.Error().Err(err)
	}
	event.Str("state", s.State().String()).Msg("Streaming session ended")
}

// closeConn sends a best-effort close frame and closes the socket, which
// unblocks the receiver.
func (s *Session) closeConn() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Error closing connection")
	}
}

// writeLoop is the only goroutine that writes data frames to the socket
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.writes:
			if s.cfg.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout))
			}
			req.result <- s.conn.WriteMessage(req.messageType, req.data)
		}
	}
}

// write submits a frame to the writer and waits for the outcome
func (s *Session) write(ctx context.Context, messageType int, data []byte) error {
	req := writeRequest{
		messageType: messageType,
		data:        data,
		result:      make(chan error, 1),
	}

	select {
	case s.writes <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return wrap(KindIO, "write", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendLoop uploads frames in source order and finishes with exactly one
// zero-length binary frame, unless the session is already tearing down.
func (s *Session) sendLoop(ctx context.Context) {
	var frames, bytes int

	for {
		frame, err := s.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug().Int("frames", frames).Msg("Sender stopped by session teardown")
				return
			}
			if !errors.Is(err, io.EOF) {
				s.metrics.RecordError(string(KindIO), "sender")
				s.logger.Warn().Err(err).Msg("Frame source failed, ending audio stream")
			}
			break
		}
		// A zero-length frame would be read as end of stream
		if len(frame) == 0 {
			continue
		}

		if err := s.write(ctx, websocket.BinaryMessage, frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.RecordError(string(KindIO), "sender")
			s.logger.Warn().Err(err).Msg("Error sending frame, ending audio stream")
			break
		}
		frames++
		bytes += len(frame)
		s.metrics.RecordFrame(len(frame))
		s.logger.Debug().Int("size", len(frame)).Int("frames", frames).Msg("Sent audio frame")
	}

	s.transition(StateOpen, StateDraining)

	if err := s.write(ctx, websocket.BinaryMessage, []byte{}); err != nil {
		if ctx.Err() != nil {
			s.logger.Debug().Msg("Session ended before end of stream was sent")
			return
		}
		s.metrics.RecordError(string(KindIO), "sender")
		s.logger.Warn().Err(err).Msg("Error sending end-of-stream frame")
		return
	}
	s.logger.Info().Int("frames", frames).Int("bytes", bytes).Msg("Audio stream finished")
}

// keepAliveLoop periodically writes the KeepAlive control message
func (s *Session) keepAliveLoop(ctx context.Context) error {
	// First keep-alive goes out one interval after open, not immediately
	ticker := time.NewTicker(s.cfg.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := s.write(ctx, websocket.TextMessage, []byte(KeepAliveMessage))
		if err == nil {
			s.metrics.RecordKeepAlive(true)
			s.logger.Debug().Msg("Sent keep-alive")
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		s.metrics.RecordKeepAlive(false)
		s.metrics.RecordError(string(KindIO), "keepalive")
		if s.cfg.keepAlivePolicy == KeepAliveFatal {
			s.logger.Error().Err(err).Msg("Error sending keep-alive, failing session")
			return err
		}
		s.logger.Warn().Err(err).Msg("Error sending keep-alive, keep-alive stopped")
		return nil
	}
}

// receiveLoop reads inbound frames until the connection closes
func (s *Session) receiveLoop(ctx context.Context) error {
	defer func() {
		if !s.transition(StateOpen, StateClosed) {
			s.transition(StateDraining, StateClosed)
		}
	}()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				s.interrupted.Store(true)
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Info().Err(err).Msg("Remote closed the stream")
				return nil
			}

			err = wrap(KindIO, "read", err)
			s.metrics.RecordError(string(KindIO), "receiver")
			s.logger.Warn().Err(err).Msg("Error reading from stream")
			if !s.deliver(ctx, Result{Err: err}) {
				s.interrupted.Store(true)
			}
			return err
		}

		if messageType != websocket.TextMessage {
			s.logger.Debug().Int("message_type", messageType).Int("size", len(data)).Msg("Dropping non-text frame")
			continue
		}

		result := Result{}
		resp, err := ParseResponse(data)
		if err != nil {
			s.metrics.RecordError(string(KindSerialization), "receiver")
			s.logger.Debug().Err(err).Msg("Error parsing response")
			result.Err = err
		} else {
			result.Response = resp
		}

		if !s.deliver(ctx, result) {
			s.interrupted.Store(true)
			return nil
		}
	}
}

// deliver blocks until the consumer accepts r or the session ends
func (s *Session) deliver(ctx context.Context, r Result) bool {
	start := time.Now()
	select {
	case s.results <- r:
		msgType := "error"
		if r.Response != nil {
			msgType = r.Response.Type
		}
		s.metrics.RecordResult(msgType, time.Since(start))
		return true
	case <-ctx.Done():
		return false
	}
}
