package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// emptyData is the payload used when a frame carries no data object.
var emptyData = json.RawMessage("{}")

// Envelope is one decoded frame: the type tag plus the verbatim JSON text of
// its data object. Data is not parsed until the concrete shape is known.
type Envelope struct {
	Type string
	Data json.RawMessage
}

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes cmd as {"type":"<tag>","data":{...}}. Commands without
// fields encode data as {}.
func Encode(cmd OutgoingCommand) ([]byte, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", cmd.Type(), err)
	}

	return json.Marshal(wireEnvelope{Type: cmd.Type(), Data: data})
}

// Decode splits a raw frame into its type tag and data substring without
// parsing the payload. The data value must be an object (or null, or absent,
// both of which decode to {}); nested objects are isolated by brace matching
// and returned byte for byte. The outer object must be closed and followed
// by nothing but whitespace.
func Decode(raw []byte) (Envelope, error) {
	start := skipSpace(raw, 0)
	if start >= len(raw) || raw[start] != '{' {
		return Envelope{}, &DecodeError{Offset: start, Reason: "frame is not a JSON object"}
	}

	end, err := matchBrace(raw, start)
	if err != nil {
		return Envelope{}, err
	}
	if rest := skipSpace(raw, end+1); rest < len(raw) {
		return Envelope{}, &DecodeError{Offset: rest, Reason: "trailing bytes after frame"}
	}
	frame := raw[:end+1]

	typ, err := extractType(frame)
	if err != nil {
		return Envelope{}, err
	}

	data, err := extractData(frame)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Type: typ, Data: data}, nil
}

// extractType reads the string bound to the top-level "type" key.
func extractType(raw []byte) (string, error) {
	pos, err := memberValue(raw, "type")
	if err != nil {
		return "", err
	}
	if pos < 0 {
		return "", &DecodeError{Offset: 0, Reason: `missing "type" key`}
	}
	if pos >= len(raw) || raw[pos] != '"' {
		return "", &DecodeError{Offset: pos, Reason: `"type" is not a string`}
	}

	end := scanString(raw, pos)
	if end < 0 {
		return "", &DecodeError{Offset: pos, Reason: "unterminated type string"}
	}

	value := raw[pos+1 : end]
	if bytes.IndexByte(value, '\\') >= 0 {
		var s string
		if err := json.Unmarshal(raw[pos:end+1], &s); err != nil {
			return "", &DecodeError{Offset: pos, Reason: "bad escape in type string"}
		}
		value = []byte(s)
	}
	if len(value) == 0 {
		return "", &DecodeError{Offset: pos, Reason: "empty type"}
	}

	return string(value), nil
}

// extractData returns the verbatim object bound to the top-level "data" key.
func extractData(raw []byte) (json.RawMessage, error) {
	pos, err := memberValue(raw, "data")
	if err != nil {
		return nil, err
	}
	if pos < 0 {
		return emptyData, nil
	}
	if pos >= len(raw) {
		return nil, &DecodeError{Offset: pos, Reason: "missing data value"}
	}

	switch raw[pos] {
	case '{':
		end, err := matchBrace(raw, pos)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw[pos : end+1]), nil
	case 'n':
		if bytes.HasPrefix(raw[pos:], []byte("null")) {
			next := skipSpace(raw, pos+len("null"))
			if next < len(raw) && (raw[next] == ',' || raw[next] == '}') {
				return emptyData, nil
			}
		}
	}

	return nil, &DecodeError{Offset: pos, Reason: "data is not an object"}
}

// memberValue finds key among the members of the outermost object and returns
// the offset of the first non-space byte after its colon, or -1 when the key
// is absent. Keys inside nested objects or string values are ignored.
func memberValue(raw []byte, key string) (int, error) {
	depth := 0
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '"':
			end := scanString(raw, i)
			if end < 0 {
				return -1, &DecodeError{Offset: i, Reason: "unterminated string"}
			}
			if depth == 1 && string(raw[i+1:end]) == key {
				next := skipSpace(raw, end+1)
				if next < len(raw) && raw[next] == ':' {
					return skipSpace(raw, next+1), nil
				}
			}
			i = end
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return -1, &DecodeError{Offset: i, Reason: "unbalanced closing bracket"}
			}
		}
	}
	return -1, nil
}

// matchBrace returns the offset of the brace closing the object that opens
// at start. Braces inside string literals do not count.
func matchBrace(raw []byte, start int) (int, error) {
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '"':
			end := scanString(raw, i)
			if end < 0 {
				return -1, &DecodeError{Offset: i, Reason: "unterminated string"}
			}
			i = end
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return -1, &DecodeError{Offset: start, Reason: "unterminated object"}
}

// scanString returns the offset of the quote closing the string literal that
// opens at start, or -1.
func scanString(raw []byte, start int) int {
	for i := start + 1; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func skipSpace(raw []byte, i int) int {
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}
