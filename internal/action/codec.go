package action

import (
	"encoding/json"
	"fmt"
	"io"
)

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// Actions travel as envelopes with a type discriminator, both in action files
// and over the control socket.
// ============================================================================

// FileVersion is the action file format version written by Encode.
const FileVersion = 1

// Envelope wraps an action with a type discriminator for JSON marshaling.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Document is the action file layout.
type Document struct {
	Version    int         `json:"version"`
	Actions    []Envelope  `json:"actions"`
	CursorPath *CursorPath `json:"cursor_path,omitempty"`
}

const (
	typeKey         = "key"
	typeMouseButton = "mouse_button"
	typeMouseWheel  = "mouse_wheel"
	typeWait        = "wait"
	typeTextType    = "text_type"
)

// TypeName returns the envelope discriminator for a.
func TypeName(a Action) (string, error) {
	switch a.(type) {
	case *KeyAction:
		return typeKey, nil
	case *MouseButtonAction:
		return typeMouseButton, nil
	case *MouseWheelAction:
		return typeMouseWheel, nil
	case *WaitAction:
		return typeWait, nil
	case *TextTypeAction:
		return typeTextType, nil
	default:
		return "", fmt.Errorf("%w: unsupported action type %T", ErrMalformedAction, a)
	}
}

// Wrap builds the envelope for a.
func Wrap(a Action) (Envelope, error) {
	typ, err := TypeName(a)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s action: %w", typ, err)
	}
	return Envelope{Type: typ, Data: data}, nil
}

// Unwrap decodes and validates the action inside env.
func Unwrap(env Envelope) (Action, error) {
	var a Action
	switch env.Type {
	case typeKey:
		a = &KeyAction{}
	case typeMouseButton:
		a = &MouseButtonAction{}
	case typeMouseWheel:
		a = &MouseWheelAction{}
	case typeWait:
		a = &WaitAction{}
	case typeTextType:
		a = &TextTypeAction{}
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrMalformedAction, env.Type)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s action has no data", ErrMalformedAction, env.Type)
	}
	if err := json.Unmarshal(env.Data, a); err != nil {
		return nil, fmt.Errorf("%w: decode %s action: %v", ErrMalformedAction, env.Type, err)
	}
	if err := Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

// MarshalAction serializes a into a JSON envelope.
func MarshalAction(a Action) ([]byte, error) {
	env, err := Wrap(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalAction deserializes and validates a JSON envelope.
func UnmarshalAction(data []byte) (Action, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshal envelope: %v", ErrMalformedAction, err)
	}
	return Unwrap(env)
}

// Encode writes an action file.
func Encode(w io.Writer, actions []Action, path *CursorPath) error {
	doc := Document{
		Version:    FileVersion,
		Actions:    make([]Envelope, 0, len(actions)),
		CursorPath: path,
	}
	for i, a := range actions {
		env, err := Wrap(a)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		doc.Actions = append(doc.Actions, env)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Decode reads an action file, validating every action.
func Decode(r io.Reader) ([]Action, *CursorPath, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("%w: decode action file: %v", ErrMalformedAction, err)
	}
	if doc.Version != FileVersion {
		return nil, nil, fmt.Errorf("%w: unsupported action file version %d", ErrMalformedAction, doc.Version)
	}

	actions := make([]Action, 0, len(doc.Actions))
	for i, env := range doc.Actions {
		a, err := Unwrap(env)
		if err != nil {
			return nil, nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}

	if p := doc.CursorPath; p != nil {
		if _, err := p.Mode.MarshalText(); err != nil || p.Mode == CursorMovementNone {
			return nil, nil, fmt.Errorf("%w: cursor path mode must be absolute or relative", ErrMalformedAction)
		}
		last := 0
		for i, m := range p.Movements {
			if m.TimestampMs < last {
				return nil, nil, fmt.Errorf("%w: cursor path movement %d goes back in time", ErrMalformedAction, i)
			}
			last = m.TimestampMs
		}
	}
	return actions, doc.CursorPath, nil
}
