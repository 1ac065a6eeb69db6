package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Decode failures. Callers treat all of them as protocol violations.
var (
	ErrMalformed   = errors.New("protocol: malformed frame")
	ErrMissingType = errors.New("protocol: missing frame type")
	ErrUnknownType = errors.New("protocol: unknown frame type")
	ErrFieldType   = errors.New("protocol: invalid field type")
)

// Inbound is a decoded client-to-server frame.
type Inbound struct {
	Type     Type
	Username string
	Message  string
}

// Decode classifies a raw client payload. Only join and message frames are
// accepted from clients; absent or null string fields decode as "" and
// strings must be valid UTF-8.
func Decode(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Inbound{}, ErrMalformed
	}

	kind := root.Get("type")
	if !kind.Exists() || kind.Type == gjson.Null {
		return Inbound{}, ErrMissingType
	}
	if kind.Type != gjson.String {
		return Inbound{}, fmt.Errorf("%w: type must be a string", ErrFieldType)
	}

	in := Inbound{Type: Type(kind.Str)}
	var err error
	switch in.Type {
	case TypeJoin:
		in.Username, err = stringField(root, "username")
	case TypeMessage:
		in.Message, err = stringField(root, "message")
	default:
		return in, fmt.Errorf("%w: %q", ErrUnknownType, kind.Str)
	}
	if err != nil {
		return in, err
	}
	return in, nil
}

func stringField(root gjson.Result, name string) (string, error) {
	v := root.Get(name)
	switch v.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		if !utf8.ValidString(v.Str) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrFieldType, name)
		}
		return v.Str, nil
	default:
		return "", fmt.Errorf("%w: %s must be a string", ErrFieldType, name)
	}
}
