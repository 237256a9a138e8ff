package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lexiqai/listen-stream/internal/audio"
	"github.com/lexiqai/listen-stream/internal/config"
	"github.com/lexiqai/listen-stream/internal/listen"
	"github.com/lexiqai/listen-stream/internal/observability"
	"github.com/lexiqai/listen-stream/internal/resilience"
)

// outputLine is one JSON line written per delivered response
type outputLine struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Start      float64 `json:"start,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	RequestID  string  `json:"request_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func newOutputLine(resp *listen.StreamResponse) outputLine {
	line := outputLine{Type: resp.Type}
	switch {
	case resp.Results != nil:
		line.Transcript = resp.Transcript()
		line.IsFinal = resp.IsFinal()
		line.Start = resp.Results.Start
		line.Duration = resp.Results.Duration
	case resp.Metadata != nil:
		line.RequestID = resp.Metadata.RequestID
	case resp.Error != nil:
		line.Error = resp.Error.ErrMsg
	}
	return line
}

func sessionOptions(cfg *config.Config) []listen.SessionOption {
	opts := []listen.SessionOption{
		listen.WithKeepAliveInterval(cfg.KeepAliveInterval),
		listen.WithResultCapacity(cfg.ResultBufferCapacity),
		listen.WithWriteTimeout(cfg.WriteTimeout),
	}
	if cfg.KeepAliveFatal {
		opts = append(opts, listen.WithKeepAlivePolicy(listen.KeepAliveFatal))
	}
	return opts
}

// runSession connects, prints every response as a JSON line and returns
// once the session has ended.
func runSession(ctx context.Context, cfg *config.Config, params *listen.Parameters, source listen.FrameSource, out io.Writer) error {
	logger := observability.GetLogger()

	var current atomic.Pointer[listen.Session]
	if cfg.MetricsEnabled {
		server := startMetricsServer(cfg.MetricsAddr, sessionReadiness(&current))
		defer stopMetricsServer(server)
	}

	session, err := connectWithRetry(ctx, cfg, params, source)
	if err != nil {
		return err
	}
	current.Store(session)

	enc := json.NewEncoder(out)
	for result := range session.Results() {
		if result.Err != nil {
			logger.Warn().
				Err(result.Err).
				Str("session_id", session.ID()).
				Str("kind", string(listen.KindOf(result.Err))).
				Msg("Stream error")
			continue
		}
		if err := enc.Encode(newOutputLine(result.Response)); err != nil {
			session.Close()
			return fmt.Errorf("failed to write result: %w", err)
		}
	}

	err = session.Wait()
	if listen.IsKind(err, listen.KindConsumerClosed) {
		return nil
	}
	return err
}

// connectWithRetry retries the handshake only. Nothing is read from source
// until a handshake succeeds, so retrying never loses audio.
func connectWithRetry(ctx context.Context, cfg *config.Config, params *listen.Parameters, source listen.FrameSource) (*listen.Session, error) {
	logger := observability.GetLogger()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.RetryMaxAttempts
	retryCfg.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	var (
		session *listen.Session
		attempt int
	)
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		s, err := listen.Connect(ctx, params, source, sessionOptions(cfg)...)
		if err != nil {
			if isRetryableHandshake(err) {
				logger.Warn().Err(err).Int("attempt", attempt).Msg("Handshake failed, will retry")
				return resilience.NewRetryableError(err)
			}
			return err
		}
		session = s
		return nil
	}, retryCfg, resilience.IsRetryable)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// isRetryableHandshake accepts transient network failures, throttling and
// server errors. Rejections such as 401 are final.
func isRetryableHandshake(err error) bool {
	if !listen.IsKind(err, listen.KindHandshake) {
		return false
	}
	status := listen.HandshakeStatus(err)
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return true
	case status != 0:
		return false
	default:
		return resilience.IsRetryableNetworkError(err)
	}
}

// frameConverter adapts raw capture samples to the encoding sent upstream
type frameConverter struct {
	format    audio.SampleFormat
	inputRate int
	rate      int
	mulaw     bool
}

// convert returns the encoded frame and the RMS level of the input
func (c frameConverter) convert(raw []byte) ([]byte, float64, error) {
	pcm, err := audio.ToLinear16(raw, c.format)
	if err != nil {
		return nil, 0, err
	}
	if c.inputRate > 0 && c.rate > 0 && c.inputRate != c.rate {
		if pcm, err = audio.Resample(pcm, c.inputRate, c.rate); err != nil {
			return nil, 0, err
		}
	}

	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return nil, 0, err
	}
	level := audio.CalculateRMS(samples)

	if c.mulaw {
		frame, err := audio.EncodeMulaw(pcm)
		return frame, level, err
	}
	return pcm, level, nil
}

// relayStdin is the producer side of a live source: it reads fixed-size
// chunks from r, converts them and pushes them until r ends.
func relayStdin(ctx context.Context, r io.Reader, size int, conv frameConverter, source *listen.LiveSource) {
	logger := observability.GetLogger()
	width := conv.format.BytesPerSample()
	buf := make([]byte, size)

	for {
		n, err := io.ReadFull(r, buf)
		// Only whole samples are converted
		if whole := n - n%width; whole > 0 {
			frame, level, cerr := conv.convert(buf[:whole])
			if cerr != nil {
				source.Fail(cerr)
				return
			}
			logger.Debug().Int("size", len(frame)).Float64("rms", level).Msg("Captured frame")

			if perr := source.Push(ctx, frame); perr != nil {
				logger.Debug().Err(perr).Msg("Capture relay stopped")
				return
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
			source.Finish()
			return
		default:
			source.Fail(err)
			return
		}
	}
}
