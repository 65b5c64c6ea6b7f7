package reading

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{"x_sonda":5,"y_sonda":10,"z_masurat":2,"magnet_length":30,"magnet_width":20,"magnet_height":5,"progress":50}`

func TestDefault(t *testing.T) {
	want := Reading{MagnetLength: 30, MagnetWidth: 20, MagnetHeight: 5}
	if diff := cmp.Diff(want, Default()); diff != "" {
		t.Errorf("Default() mismatch (-want +got):\n%s", diff)
	}
}

func TestAbsoluteHeight(t *testing.T) {
	tests := []struct {
		name   string
		height float64
		depth  float64
		want   float64
	}{
		{"sample", 5, 2, 7},
		{"zero depth", 5, 0, 5},
		{"probe above surface", 5, -3, 2},
		{"probe below base", 5, -8, -3},
		{"fractional", 2.5, 0.25, 2.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Reading{MagnetHeight: tt.height, ProbeDepth: tt.depth}
			assert.Equal(t, tt.want, r.AbsoluteHeight())
		})
	}
}

func TestDecode(t *testing.T) {
	r, err := Decode([]byte(samplePayload))
	require.NoError(t, err)

	want := Reading{
		ProbeX: 5, ProbeY: 10, ProbeDepth: 2,
		MagnetLength: 30, MagnetWidth: 20, MagnetHeight: 5,
		Progress: 50,
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	payload := strings.Replace(samplePayload, "{", `{"device":"rpi-4",`, 1)
	r, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, 50.0, r.Progress)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
		field   string
	}{
		{"not json", `not json`, ErrMalformed, ""},
		{"array", `[1,2,3]`, ErrMalformed, ""},
		{"null", `null`, ErrMalformed, ""},
		{"missing x", strings.Replace(samplePayload, `"x_sonda":5,`, "", 1), ErrMissingField, "x_sonda"},
		{"missing progress", strings.Replace(samplePayload, `,"progress":50`, "", 1), ErrMissingField, "progress"},
		{"string value", strings.Replace(samplePayload, `"z_masurat":2`, `"z_masurat":"2"`, 1), ErrNotNumeric, "z_masurat"},
		{"null value", strings.Replace(samplePayload, `"magnet_width":20`, `"magnet_width":null`, 1), ErrNotNumeric, "magnet_width"},
		{"bool value", strings.Replace(samplePayload, `"magnet_height":5`, `"magnet_height":true`, 1), ErrNotNumeric, "magnet_height"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
			if tt.field != "" {
				assert.Contains(t, err.Error(), tt.field)
			}
		})
	}
}

func TestDecodeFrom_Limit(t *testing.T) {
	_, err := DecodeFrom(strings.NewReader(samplePayload), 16)
	assert.ErrorIs(t, err, ErrMalformed)

	r, err := DecodeFrom(strings.NewReader(samplePayload), 1024)
	require.NoError(t, err)
	assert.Equal(t, 7.0, r.AbsoluteHeight())
}

func TestMarshal_UsesWireNames(t *testing.T) {
	r, err := Decode([]byte(samplePayload))
	require.NoError(t, err)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, samplePayload, string(out))
}

func TestValues_Order(t *testing.T) {
	names := make([]string, 0, 7)
	for _, v := range Default().Values() {
		names = append(names, v.Name)
	}
	want := []string{
		FieldProbeX, FieldProbeY, FieldProbeDepth,
		FieldMagnetLength, FieldMagnetWidth, FieldMagnetHeight, FieldProgress,
	}
	assert.Equal(t, want, names)
}

func TestCheckFinite(t *testing.T) {
	assert.NoError(t, Default().CheckFinite())

	r := Default()
	r.ProbeY = math.NaN()
	err := r.CheckFinite()
	require.Error(t, err)
	assert.Contains(t, err.Error(), FieldProbeY)

	r = Default()
	r.MagnetLength = math.Inf(1)
	assert.Error(t, r.CheckFinite())
}
