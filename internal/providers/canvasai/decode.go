package canvasai

import (
	"bytes"
	"encoding/json"
	"strings"
)

// MaxDecodeDepth bounds how many JSON-string layers Decode will unwrap.
const MaxDecodeDepth = 3

// Decode unmarshals payload into v. The payload may be a JSON value, fenced
// JSON text, or a JSON string whose contents are either of those; each
// string layer is sanitized and parsed again up to MaxDecodeDepth times.
// Failures are returned as *DecodeError carrying the original payload.
func Decode(payload []byte, v any) error {
	raw := string(payload)
	text := clean(raw)
	for depth := 0; ; depth++ {
		if text == "" {
			return &DecodeError{Raw: raw, Err: ErrEmptyPayload}
		}
		if !strings.HasPrefix(text, `"`) {
			if err := json.Unmarshal([]byte(text), v); err != nil {
				return &DecodeError{Raw: raw, Err: err}
			}
			return nil
		}
		if depth >= MaxDecodeDepth {
			return &DecodeError{Raw: raw, Err: ErrDecodeDepth}
		}
		var inner string
		if err := json.Unmarshal([]byte(text), &inner); err != nil {
			return &DecodeError{Raw: raw, Err: err}
		}
		text = clean(inner)
	}
}

// DecodeObject is Decode restricted to payloads that resolve to a JSON
// object. null, arrays and scalars fail with ErrNotObject.
func DecodeObject(payload []byte, v any) error {
	var inner json.RawMessage
	if err := Decode(payload, &inner); err != nil {
		return err
	}
	if !bytes.HasPrefix(bytes.TrimSpace(inner), []byte("{")) {
		return &DecodeError{Raw: string(payload), Err: ErrNotObject}
	}
	if err := json.Unmarshal(inner, v); err != nil {
		return &DecodeError{Raw: string(payload), Err: err}
	}
	return nil
}

// clean leaves valid JSON untouched so fences quoted inside string values
// survive, and sanitizes everything else.
func clean(text string) string {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}
	return Sanitize(trimmed)
}

// Text renders a payload for forwarding as a query parameter: a JSON string
// is returned unquoted, anything else as compact JSON text.
func Text(payload json.RawMessage) string {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return trimmed
	}
	return buf.String()
}
