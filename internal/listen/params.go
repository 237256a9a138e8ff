package listen

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/lexiqai/listen-stream/internal/options"
)

// ListenPath is joined to the base URL to form the streaming endpoint
const ListenPath = "v1/listen"

// Encoding is the audio sample encoding tag sent as the encoding parameter
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16"
	EncodingFlac     Encoding = "flac"
	EncodingMulaw    Encoding = "mulaw"
	EncodingAmrNb    Encoding = "amr-nb"
	EncodingAmrWb    Encoding = "amr-wb"
	EncodingOpus     Encoding = "opus"
	EncodingSpeex    Encoding = "speex"
	EncodingG729     Encoding = "g729"
)

// Endpointing is the silence-detection policy. The zero value is "enabled".
type Endpointing struct {
	disabled bool
	ms       uint32
}

var (
	EndpointingEnabled  = Endpointing{}
	EndpointingDisabled = Endpointing{disabled: true}
)

// EndpointingAfter finalizes after ms milliseconds of silence
func EndpointingAfter(ms uint32) Endpointing {
	return Endpointing{ms: ms}
}

func (e Endpointing) String() string {
	switch {
	case e.disabled:
		return "false"
	case e.ms > 0:
		return strconv.FormatUint(uint64(e.ms), 10)
	default:
		return "true"
	}
}

// ParseEndpointing accepts "true", "false" or a millisecond count
func ParseEndpointing(s string) (Endpointing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return EndpointingEnabled, nil
	case "false":
		return EndpointingDisabled, nil
	}
	ms, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return Endpointing{}, wrap(KindConfiguration, "parse endpointing", err)
	}
	return EndpointingAfter(uint32(ms)), nil
}

type streamSettings struct {
	encoding       *Encoding
	sampleRate     *uint32
	channels       *uint16
	endpointing    *Endpointing
	utteranceEndMs *uint16
	interimResults *bool
	noDelay        *bool
	vadEvents      *bool
	keepAlive      bool
}

// StreamOption sets a streaming-specific parameter
type StreamOption func(*streamSettings)

func WithEncoding(e Encoding) StreamOption {
	return func(s *streamSettings) { s.encoding = &e }
}

func WithSampleRate(hz uint32) StreamOption {
	return func(s *streamSettings) { s.sampleRate = &hz }
}

func WithChannels(n uint16) StreamOption {
	return func(s *streamSettings) { s.channels = &n }
}

func WithEndpointing(e Endpointing) StreamOption {
	return func(s *streamSettings) { s.endpointing = &e }
}

func WithUtteranceEndMs(ms uint16) StreamOption {
	return func(s *streamSettings) { s.utteranceEndMs = &ms }
}

func WithInterimResults(v bool) StreamOption {
	return func(s *streamSettings) { s.interimResults = &v }
}

func WithNoDelay(v bool) StreamOption {
	return func(s *streamSettings) { s.noDelay = &v }
}

func WithVADEvents(v bool) StreamOption {
	return func(s *streamSettings) { s.vadEvents = &v }
}

// WithKeepAlive enables the periodic KeepAlive control message
func WithKeepAlive() StreamOption {
	return func(s *streamSettings) { s.keepAlive = true }
}

// Parameters is the resolved connection target of one session.
// It is immutable once built.
type Parameters struct {
	endpoint  *url.URL
	query     []options.Pair
	apiKey    string
	keepAlive bool
}

// StreamURL resolves the streaming endpoint for base, upgrading
// http to ws and https to wss.
func StreamURL(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "parse base url", Err: ErrInvalidEndpoint}
	}
	if u.Opaque != "" || u.Host == "" {
		return nil, &Error{Kind: KindConfiguration, Op: "parse base url", Err: ErrInvalidEndpoint}
	}

	var scheme string
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		scheme = "ws"
	case "https", "wss":
		scheme = "wss"
	default:
		return nil, &Error{Kind: KindConfiguration, Op: "parse base url", Err: ErrInvalidEndpoint}
	}

	stream := u.ResolveReference(&url.URL{Path: ListenPath})
	stream.Scheme = scheme
	stream.RawQuery = ""
	stream.Fragment = ""
	return stream, nil
}

// NewParameters builds the parameters for a streaming session. Generic
// options are encoded first, followed by the streaming options in a fixed
// order regardless of the order opts are given in.
func NewParameters(base, apiKey string, generic *options.Options, opts ...StreamOption) (*Parameters, error) {
	endpoint, err := StreamURL(base)
	if err != nil {
		return nil, err
	}

	var s streamSettings
	for _, opt := range opts {
		opt(&s)
	}

	query := generic.Pairs()
	add := func(k, v string) { query = append(query, options.Pair{Key: k, Value: v}) }

	if s.encoding != nil {
		add("encoding", string(*s.encoding))
	}
	if s.sampleRate != nil {
		add("sample_rate", strconv.FormatUint(uint64(*s.sampleRate), 10))
	}
	if s.channels != nil {
		add("channels", strconv.FormatUint(uint64(*s.channels), 10))
	}
	if s.endpointing != nil {
		add("endpointing", s.endpointing.String())
	}
	if s.utteranceEndMs != nil {
		add("utterance_end_ms", strconv.FormatUint(uint64(*s.utteranceEndMs), 10))
	}
	if s.interimResults != nil {
		add("interim_results", strconv.FormatBool(*s.interimResults))
	}
	if s.noDelay != nil {
		add("no_delay", strconv.FormatBool(*s.noDelay))
	}
	if s.vadEvents != nil {
		add("vad_events", strconv.FormatBool(*s.vadEvents))
	}

	return &Parameters{
		endpoint:  endpoint,
		query:     query,
		apiKey:    apiKey,
		keepAlive: s.keepAlive,
	}, nil
}

// Query returns a copy of the ordered query pairs
func (p *Parameters) Query() []options.Pair {
	return append([]options.Pair(nil), p.query...)
}

// RawQuery encodes the query pairs in order
func (p *Parameters) RawQuery() string {
	var b strings.Builder
	for i, pair := range p.query {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair.Value))
	}
	return b.String()
}

// URL returns the full streaming URL including the query string
func (p *Parameters) URL() *url.URL {
	u := *p.endpoint
	u.RawQuery = p.RawQuery()
	return &u
}

func (p *Parameters) String() string {
	return p.URL().String()
}

func (p *Parameters) KeepAlive() bool {
	return p.keepAlive
}

// HasCredential reports whether an API key will be sent
func (p *Parameters) HasCredential() bool {
	return p.apiKey != ""
}
