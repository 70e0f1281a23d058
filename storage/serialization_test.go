package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRow(t *testing.T) {
	tests := []struct {
		name string
		row  Row
	}{
		{"empty row", Row{}},
		{"scalars", Row{
			"id":     "a1",
			"count":  int64(-42),
			"score":  3.25,
			"done":   true,
			"note":   "",
			"absent": nil,
		}},
		{"folds narrow kinds", Row{"n": 7, "f": float32(1.5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalRow(tt.row)
			require.NoError(t, err)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalRow(data)
			require.NoError(t, err)
			require.Len(t, decoded, len(tt.row))
			for k, v := range tt.row {
				assert.Equal(t, canonical(v), decoded[k], k)
			}
		})
	}
}

func TestMarshalRow_Deterministic(t *testing.T) {
	a, err := MarshalRow(Row{"x": int64(1), "y": "two", "z": false})
	require.NoError(t, err)
	b, err := MarshalRow(Row{"z": false, "y": "two", "x": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshalRow_Unsupported(t *testing.T) {
	_, err := MarshalRow(Row{"bad": []string{"a"}})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestUnmarshalRow_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"count without entries", []byte{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalRow(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)
		})
	}
}

func TestMarshalValue_DistinguishesKinds(t *testing.T) {
	s, err := MarshalValue("1")
	require.NoError(t, err)
	i, err := MarshalValue(int64(1))
	require.NoError(t, err)
	same, err := MarshalValue(1)
	require.NoError(t, err)

	assert.NotEqual(t, s, i)
	assert.Equal(t, i, same)
}
