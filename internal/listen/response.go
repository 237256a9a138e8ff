package listen

import (
	"encoding/json"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// Inbound message types
const (
	TypeResults       = "Results"
	TypeMetadata      = "Metadata"
	TypeSpeechStarted = "SpeechStarted"
	TypeUtteranceEnd  = "UtteranceEnd"
	TypeError         = "Error"
)

// StreamResponse is one parsed inbound message. Exactly one payload field
// is set for known types; unknown types only carry Type and Raw.
type StreamResponse struct {
	Type string
	Raw  json.RawMessage

	Results       *msginterfaces.MessageResponse
	Metadata      *msginterfaces.MetadataResponse
	SpeechStarted *msginterfaces.SpeechStartedResponse
	UtteranceEnd  *msginterfaces.UtteranceEndResponse
	Error         *msginterfaces.ErrorResponse
}

// Result is one item delivered to the caller: a response or an error
type Result struct {
	Response *StreamResponse
	Err      error
}

// ParseResponse decodes a text frame payload
func ParseResponse(data []byte) (*StreamResponse, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, wrap(KindSerialization, "decode response", err)
	}

	resp := &StreamResponse{
		Type: envelope.Type,
		Raw:  append(json.RawMessage(nil), data...),
	}

	var target interface{}
	switch envelope.Type {
	case TypeResults:
		resp.Results = &msginterfaces.MessageResponse{}
		target = resp.Results
	case TypeMetadata:
		resp.Metadata = &msginterfaces.MetadataResponse{}
		target = resp.Metadata
	case TypeSpeechStarted:
		resp.SpeechStarted = &msginterfaces.SpeechStartedResponse{}
		target = resp.SpeechStarted
	case TypeUtteranceEnd:
		resp.UtteranceEnd = &msginterfaces.UtteranceEndResponse{}
		target = resp.UtteranceEnd
	case TypeError:
		resp.Error = &msginterfaces.ErrorResponse{}
		target = resp.Error
	default:
		return resp, nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, wrap(KindSerialization, "decode "+envelope.Type, err)
	}
	return resp, nil
}

// Transcript returns the best alternative of a Results message, or ""
func (r *StreamResponse) Transcript() string {
	if r == nil || r.Results == nil || len(r.Results.Channel.Alternatives) == 0 {
		return ""
	}
	return r.Results.Channel.Alternatives[0].Transcript
}

// IsFinal reports whether a Results message is final
func (r *StreamResponse) IsFinal() bool {
	if r == nil || r.Results == nil {
		return false
	}
	return r.Results.IsFinal || r.Results.SpeechFinal
}
