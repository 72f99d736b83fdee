package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrEncode         = errors.New("encode envelope")
)

// Envelope is a single (channel, payload) unit on the wire.
type Envelope struct {
	Channel string `json:"channel"`
	Data    string `json:"data"`
}

// Encode serializes an envelope to its wire form.
// Both fields must be valid UTF-8 so that Decode returns an equal envelope.
func Encode(env Envelope) ([]byte, error) {
	if !utf8.ValidString(env.Channel) {
		return nil, fmt.Errorf("%w: channel is not valid utf-8", ErrEncode)
	}
	if !utf8.ValidString(env.Data) {
		return nil, fmt.Errorf("%w: data is not valid utf-8", ErrEncode)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	// Encoder terminates every value with a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Wire field names. Matching is exact.
const (
	fieldChannel = "channel"
	fieldData    = "data"
)

// Decode parses a wire frame. It returns ErrMalformedFrame when the frame is
// not a single JSON object, when either field is missing, repeated or not a
// string, or when a key differs from a field name only by case. Other keys
// are ignored.
func Decode(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return Envelope{}, err
	}

	var (
		env                   Envelope
		seenChannel, seenData bool
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		key, ok := tok.(string)
		if !ok {
			return Envelope{}, fmt.Errorf("%w: unexpected token %v", ErrMalformedFrame, tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}

		switch {
		case key == fieldChannel:
			if seenChannel {
				return Envelope{}, fmt.Errorf("%w: duplicate channel", ErrMalformedFrame)
			}
			seenChannel = true
			if env.Channel, err = decodeString(key, raw); err != nil {
				return Envelope{}, err
			}
		case key == fieldData:
			if seenData {
				return Envelope{}, fmt.Errorf("%w: duplicate data", ErrMalformedFrame)
			}
			seenData = true
			if env.Data, err = decodeString(key, raw); err != nil {
				return Envelope{}, err
			}
		case strings.EqualFold(key, fieldChannel), strings.EqualFold(key, fieldData):
			return Envelope{}, fmt.Errorf("%w: ambiguous key %q", ErrMalformedFrame, key)
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return Envelope{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: trailing data after object", ErrMalformedFrame)
	}

	if !seenChannel {
		return Envelope{}, fmt.Errorf("%w: missing channel", ErrMalformedFrame)
	}
	if !seenData {
		return Envelope{}, fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}

	return env, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %v, got %v", ErrMalformedFrame, want, tok)
	}
	return nil
}

// decodeString rejects null, which json.Unmarshal would accept as a no-op.
func decodeString(key string, raw json.RawMessage) (string, error) {
	var v string
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", fmt.Errorf("%w: %s is null", ErrMalformedFrame, key)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrMalformedFrame, key, err)
	}
	return v, nil
}
