// Package event decodes worker replies and routes them to the job state.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/livinlefevreloca/originator/internal/apperrors"
)

// Kind is the closed set of payload variants.
type Kind int

const (
	KindUnclassified Kind = iota
	KindStart
	KindFinish
	KindCrash
	KindException
)

// String returns a human-readable representation of the kind
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindFinish:
		return "finish"
	case KindCrash:
		return "crash"
	case KindException:
		return "exception"
	default:
		return "unclassified"
	}
}

// Discriminant values sent by workers.
const (
	ActionStart   = "start"
	ActionFinish  = "finish"
	TypeCrash     = "crash"
	TypeException = "exception"
	TypeFail      = "fail"
	TypePass      = "pass"
)

// Payload is a decoded worker reply.
type Payload struct {
	Kind      Kind
	Action    string
	Type      string
	Hostname  string
	WorkerID  string
	Filename  string
	Failures  []string
	Runtime   float64
	Message   string
	Backtrace []string
	Stdout    string
	Stderr    string

	// Raw holds every field of the reply, including the ones above.
	Raw map[string]any
}

// Failed reports whether a finish payload carries failing results.
func (p Payload) Failed() bool {
	return p.Kind == KindFinish && p.Type == TypeFail
}

// DecodeError reports a reply that is not a well-formed JSON object.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// discriminant is the only part of a reply decoded strictly.
type discriminant struct {
	Action string `json:"action"`
	Type   string `json:"type"`
}

// Decode parses a raw reply into a Payload. Metadata fields are read
// leniently so a mistyped value never discards an otherwise valid reply.
func Decode(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Payload{}, decodeError(raw, errors.New("payload is not a JSON object"))
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Payload{}, decodeError(raw, err)
	}

	var d discriminant
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return Payload{}, decodeError(raw, err)
	}

	p := Payload{
		Action:    d.Action,
		Type:      d.Type,
		Hostname:  asString(fields["hostname"]),
		WorkerID:  asString(fields["worker_id"]),
		Filename:  asString(fields["filename"]),
		Failures:  asStrings(fields["failures"]),
		Runtime:   asFloat(fields["runtime"]),
		Message:   asString(fields["message"]),
		Backtrace: asStrings(fields["backtrace"]),
		Stdout:    asString(fields["stdout"]),
		Stderr:    asString(fields["stderr"]),
		Raw:       fields,
	}
	p.Kind = classify(p.Action, p.Type)
	return p, nil
}

func classify(action, typ string) Kind {
	switch {
	case action == ActionFinish:
		return KindFinish
	case action == ActionStart:
		return KindStart
	case typ == TypeCrash:
		return KindCrash
	case typ == TypeException:
		return KindException
	default:
		return KindUnclassified
	}
}

func decodeError(raw []byte, cause error) error {
	return &DecodeError{
		Raw: append([]byte(nil), raw...),
		Err: apperrors.Decode(cause),
	}
}

// asString renders any JSON value as text. Strings are returned as is,
// null becomes empty and everything else is re-encoded.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// asStrings accepts a list or a single value.
func asStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		if len(t) == 0 {
			return nil
		}
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, asString(item))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return strings.Split(t, "\n")
	default:
		return []string{asString(t)}
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
