package state

import (
	"encoding/json"
	"fmt"
)

// Envelope is the persisted wire format: {mode, metadata, params}. Metadata is opaque to
// this package (callers stamp layer identity/capabilities into it); Params is mode-specific
// and validated on decode.
type Envelope struct {
	Mode     Mode            `json:"mode"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Params   json.RawMessage `json:"params"`
}

// factory maps a mode tag to a fresh, zero-valued variant ready to be json.Unmarshal'd into.
var factory = map[Mode]func() State{
	ModeNoData:         func() State { return &NoData{} },
	ModeResultOffset:   func() State { return &ResultOffset{} },
	ModeOidWhereClause: func() State { return &OidWhereClause{Done: map[int64]bool{}} },
	ModeOidEnumeration: func() State { return &OidEnumeration{Done: map[int64]bool{}} },
	ModeGeoQueries:     func() State { return &GeoQueries{ExploredTree: map[string]TreeStatus{}, Done: map[int64]bool{}} },
}

// Encode serializes a State into the envelope shape.
func Encode(s State, metadata json.RawMessage) ([]byte, error) {
	params, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("state: encode params: %w", err)
	}
	env := Envelope{Mode: s.Mode(), Metadata: metadata, Params: params}
	return json.Marshal(env)
}

// Decode parses and validates a persisted envelope. A schema violation is a fatal load-time
// error, never silently repaired.
func Decode(raw []byte) (State, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("state: decode envelope: %w", err)
	}

	newVariant, ok := factory[env.Mode]
	if !ok {
		return nil, nil, fmt.Errorf("state: unknown mode %q", env.Mode)
	}

	s := newVariant()
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, s); err != nil {
			return nil, nil, fmt.Errorf("state: decode params for mode %q: %w", env.Mode, err)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	return s, env.Metadata, nil
}
