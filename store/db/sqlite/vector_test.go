package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorBlobRoundTrip(t *testing.T) {
	vector := []float32{0.25, -1.5, 3.75, 0}

	blob, err := float32ArrayToBLOB(vector)
	require.NoError(t, err)
	require.Len(t, blob, len(vector)*4)

	decoded, err := blobToFloat32Array(blob)
	require.NoError(t, err)
	assert.Equal(t, vector, decoded)
}

func TestVectorBlobEmpty(t *testing.T) {
	blob, err := float32ArrayToBLOB(nil)
	require.NoError(t, err)
	assert.Nil(t, blob)

	decoded, err := blobToFloat32Array(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestVectorBlobInvalidLength(t *testing.T) {
	_, err := blobToFloat32Array([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "mismatched dimensions", a: []float32{1, 0}, b: []float32{1, 0, 0}, want: 0},
		{name: "zero magnitude", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}
