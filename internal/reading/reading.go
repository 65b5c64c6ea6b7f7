// Package reading defines the probe reading reported by the field device: the
// probe position, the magnet it is measured against, and the device progress
// value. A Reading is the only unit of state exchanged between the ingress
// handlers, the coordinate store, live viewers, and the renderer.
package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrMalformed is returned when the payload is not a JSON object.
	ErrMalformed = errors.New("malformed reading payload")
	// ErrMissingField is returned when one of the seven fields is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrNotNumeric is returned when a field is present but not a JSON number.
	ErrNotNumeric = errors.New("field is not numeric")
)

// Wire names of the reading fields, in the order the device sends them.
const (
	FieldProbeX       = "x_sonda"
	FieldProbeY       = "y_sonda"
	FieldProbeDepth   = "z_masurat"
	FieldMagnetLength = "magnet_length"
	FieldMagnetWidth  = "magnet_width"
	FieldMagnetHeight = "magnet_height"
	FieldProgress     = "progress"
)

// Reading is a full snapshot of the probe and magnet geometry in millimetres.
type Reading struct {
	// ProbeX and ProbeY are the lateral probe position.
	ProbeX float64 `json:"x_sonda"`
	ProbeY float64 `json:"y_sonda"`
	// ProbeDepth is the measured distance from the magnet's top surface to the
	// probe. Negative values are accepted as-is.
	ProbeDepth float64 `json:"z_masurat"`

	MagnetLength float64 `json:"magnet_length"`
	MagnetWidth  float64 `json:"magnet_width"`
	MagnetHeight float64 `json:"magnet_height"`

	// Progress is opaque to the service and passed through untouched.
	Progress float64 `json:"progress"`
}

// Default returns the reading observed before any update arrives.
func Default() Reading {
	return Reading{
		MagnetLength: 30,
		MagnetWidth:  20,
		MagnetHeight: 5,
	}
}

// AbsoluteHeight is the probe height above the magnet's base plane.
func (r Reading) AbsoluteHeight() float64 {
	return r.MagnetHeight + r.ProbeDepth
}

// NamedValue pairs a wire field name with its value.
type NamedValue struct {
	Name  string
	Value float64
}

type field struct {
	name string
	ptr  func(*Reading) *float64
}

var fields = []field{
	{FieldProbeX, func(r *Reading) *float64 { return &r.ProbeX }},
	{FieldProbeY, func(r *Reading) *float64 { return &r.ProbeY }},
	{FieldProbeDepth, func(r *Reading) *float64 { return &r.ProbeDepth }},
	{FieldMagnetLength, func(r *Reading) *float64 { return &r.MagnetLength }},
	{FieldMagnetWidth, func(r *Reading) *float64 { return &r.MagnetWidth }},
	{FieldMagnetHeight, func(r *Reading) *float64 { return &r.MagnetHeight }},
	{FieldProgress, func(r *Reading) *float64 { return &r.Progress }},
}

// Values returns every field in wire order.
func (r Reading) Values() []NamedValue {
	out := make([]NamedValue, 0, len(fields))
	for _, f := range fields {
		out = append(out, NamedValue{Name: f.name, Value: *f.ptr(&r)})
	}
	return out
}

// CheckFinite returns an error naming the first NaN or infinite field.
func (r Reading) CheckFinite() error {
	for _, v := range r.Values() {
		if math.IsNaN(v.Value) || math.IsInf(v.Value, 0) {
			return fmt.Errorf("field %q is not finite: %v", v.Name, v.Value)
		}
	}
	return nil
}

// Decode parses a JSON object into a Reading. All seven fields must be
// present and hold JSON numbers; unknown fields are ignored.
func Decode(data []byte) (Reading, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return Reading{}, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	var r Reading
	for _, f := range fields {
		msg, ok := raw[f.name]
		if !ok {
			return Reading{}, fmt.Errorf("%w %q", ErrMissingField, f.name)
		}
		v, err := parseNumber(msg)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: %q: %v", ErrNotNumeric, f.name, err)
		}
		*f.ptr(&r) = v
	}
	return r, nil
}

// DecodeFrom reads at most limit bytes from rd and decodes them.
func DecodeFrom(rd io.Reader, limit int64) (Reading, error) {
	data, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return Reading{}, fmt.Errorf("failed to read payload: %w", err)
	}
	if int64(len(data)) > limit {
		return Reading{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformed, limit)
	}
	return Decode(data)
}

func parseNumber(msg json.RawMessage) (float64, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("got %s", bytes.TrimSpace(msg))
	}
	return n.Float64()
}
