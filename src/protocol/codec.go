package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"quote-aggregator/src/helpers"
)

// Frames are flat JSON objects: the "type" tag sits next to the payload fields.
type typeTag struct {
	Type MessageType `json:"type"`
}

// -----------------------------------------------------------------------------

// DecodeClientMessage parses one inbound frame. Unknown tags, malformed JSON and
// missing required fields are reported as ProtocolError.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	tag, err := readTag(raw)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeAuth:
		msg := &AuthMessage{}
		if err := decodePayload(tag, raw, msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.UserID) == "" {
			return nil, helpers.NewProtocolError("auth: userId is required")
		}
		return msg, nil

	case TypeSubscribeQuotes:
		msg := &SubscribeQuotesMessage{}
		if err := decodePayload(tag, raw, msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.RequestID) == "" {
			return nil, helpers.NewProtocolError("subscribe_quotes: requestId is required")
		}
		return msg, nil

	case TypeUnsubscribeQuotes:
		msg := &UnsubscribeQuotesMessage{}
		if err := decodePayload(tag, raw, msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.RequestID) == "" {
			return nil, helpers.NewProtocolError("unsubscribe_quotes: requestId is required")
		}
		return msg, nil

	default:
		return nil, helpers.NewProtocolError("unknown message type: %s", tag)
	}
}

// -----------------------------------------------------------------------------

// DecodeServerMessage parses one outbound frame. Used by the client subscriber.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	tag, err := readTag(raw)
	if err != nil {
		return nil, err
	}

	var msg ServerMessage
	switch tag {
	case TypeConnectionAck:
		msg = &ConnectionAck{}
	case TypeAuthSuccess:
		msg = &AuthSuccess{}
	case TypeQuoteUpdate:
		msg = &QuoteUpdate{}
	case TypeQuoteProgress:
		msg = &QuoteProgress{}
	case TypeQuoteCompletion:
		msg = &QuoteCompletion{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, helpers.NewProtocolError("unknown message type: %s", tag)
	}

	if err := decodePayload(tag, raw, msg); err != nil {
		return nil, err
	}

	switch msg.(type) {
	case *QuoteUpdate, *QuoteProgress, *QuoteCompletion:
		if RequestIDOf(msg) == "" {
			return nil, helpers.NewProtocolError("%s: requestId is required", tag)
		}
	}
	return msg, nil
}

// -----------------------------------------------------------------------------

// Encode serializes a frame with its "type" tag first.
func Encode(msg interface{ MessageType() MessageType }) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(typeTag{Type: msg.MessageType()})
	if err != nil {
		return nil, err
	}

	// payload is always a JSON object; splice its fields after the tag
	fields := bytes.TrimSpace(payload)
	fields = bytes.TrimPrefix(fields, []byte("{"))
	if len(bytes.TrimSpace(fields)) == 1 { // just the closing brace
		return tag, nil
	}

	out := make([]byte, 0, len(tag)+len(fields)+1)
	out = append(out, tag[:len(tag)-1]...)
	out = append(out, ',')
	out = append(out, fields...)
	return out, nil
}

// -----------------------------------------------------------------------------

func readTag(raw []byte) (MessageType, error) {
	var tag typeTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", helpers.NewProtocolError("malformed message: %v", err)
	}
	if tag.Type == "" {
		return "", helpers.NewProtocolError("message type is required")
	}
	return tag.Type, nil
}

func decodePayload(tag MessageType, raw []byte, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return helpers.NewProtocolError("%s: invalid payload: %v", tag, err)
	}
	return nil
}
