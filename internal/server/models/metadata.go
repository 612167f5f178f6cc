package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Metadata is an open string-keyed map whose values are restricted to the
// protobuf Struct union: null, bool, number, string, list and nested map.
// Numbers are stored as float64. JSON encoding is deterministic because
// object keys are always emitted in sorted order.
type Metadata struct {
	s *structpb.Struct
}

// NewMetadata validates m and converts it. Unsupported value types
// (channels, funcs, structs...) are rejected.
func NewMetadata(m map[string]any) (Metadata, error) {
	if len(m) == 0 {
		return Metadata{}, nil
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata: %w", err)
	}
	return Metadata{s: s}, nil
}

// Len returns the number of top-level keys.
func (m Metadata) Len() int {
	if m.s == nil {
		return 0
	}
	return len(m.s.Fields)
}

// Get returns the plain Go value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	if m.s == nil {
		return nil, false
	}
	v, ok := m.s.Fields[key]
	if !ok {
		return nil, false
	}
	return v.AsInterface(), true
}

// Set stores value under key, replacing any previous value.
func (m *Metadata) Set(key string, value any) error {
	v, err := structpb.NewValue(value)
	if err != nil {
		return fmt.Errorf("invalid metadata value for %q: %w", key, err)
	}
	if m.s == nil {
		m.s = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	m.s.Fields[key] = v
	return nil
}

// AsMap returns a copy as plain Go values.
func (m Metadata) AsMap() map[string]any {
	if m.s == nil {
		return map[string]any{}
	}
	return m.s.AsMap()
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.AsMap())
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := NewMetadata(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores metadata as a JSON document.
func (m Metadata) Value() (driver.Value, error) {
	return m.MarshalJSON()
}

// Scan reads a JSON document produced by Value.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return errors.New("metadata: unsupported scan source")
	}
}
