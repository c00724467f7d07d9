package pdfparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKmeans1DSeparatesDistinctSizes(t *testing.T) {
	values := []float64{9, 9, 9.5, 12, 12, 12.5, 24, 24, 23.5}
	centroids := kmeans1D(values, 3)
	require.Len(t, centroids, 3)
	// Descending order: H1 >= H2 >= H3
	require.GreaterOrEqual(t, centroids[0], centroids[1])
	require.GreaterOrEqual(t, centroids[1], centroids[2])
	require.InDelta(t, 23.8, centroids[0], 1.0)
	require.InDelta(t, 9.2, centroids[2], 1.0)
}

func TestKmeans1DFewerDistinctValuesThanK(t *testing.T) {
	values := []float64{10, 10, 10}
	centroids := kmeans1D(values, 3)
	require.Len(t, centroids, 1)
	require.InDelta(t, 10, centroids[0], 0.001)
}

func TestKmeans1DEmptyInput(t *testing.T) {
	require.Nil(t, kmeans1D(nil, 3))
}
