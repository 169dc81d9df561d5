package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recist "github.com/recist/recist/internal/model"
)

// fixedEmbeddingProvider always embeds text to the same vector,
// regardless of the text, so a Priors test can control similarity
// purely through the records' stored embeddings.
type fixedEmbeddingProvider struct {
	embedding []float32
}

func (f fixedEmbeddingProvider) Complete(context.Context, string, string) (string, error) {
	return "", nil
}
func (f fixedEmbeddingProvider) Embed(context.Context, string) ([]float32, error) {
	return f.embedding, nil
}
func (f fixedEmbeddingProvider) Name() string { return "fixed" }

func TestPriorsScoresHotBufferBySimilarityNotRecency(t *testing.T) {
	store := New(nil, fixedEmbeddingProvider{embedding: []float32{1, 0}}, nil, 0.8)

	buf := store.hotBuffer("prod")
	// far is added first (oldest, so first in the buffer's key order),
	// close is added last, but close is the one whose embedding actually
	// matches the query, so a correct Priors must rank it first
	// regardless of insertion order.
	buf.Add("far", recist.KnowledgeRecord{ID: "far", Embedding: []float32{0, 1}})
	buf.Add("close", recist.KnowledgeRecord{ID: "close", Embedding: []float32{0.99, 0.01}})

	got, err := store.Priors(context.Background(), recist.Target{Namespace: "prod"}, "checkout fault", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "close", got[0].ID)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{0.5, 0.5, 0.7}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-6)
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}))
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
}

func TestMeanEmbeddingFoldsNewVectorIntoRunningMean(t *testing.T) {
	centroid := []float32{2, 4}
	got := meanEmbedding(centroid, 1, []float32{4, 8})
	assert.InDeltaSlice(t, []float64{3, 6}, toFloat64(got), 1e-6)
}

func TestMeanEmbeddingReturnsNextWhenCentroidEmpty(t *testing.T) {
	got := meanEmbedding(nil, 0, []float32{1, 2})
	assert.Equal(t, []float32{1, 2}, got)
}

func TestTrendFromSeriesDetectsIncreasing(t *testing.T) {
	now := time.Now()
	series := recist.MetricSeries{
		Name: "cpu",
		Points: []recist.MetricPoint{
			{Time: now, Value: 0.1},
			{Time: now.Add(5 * time.Minute), Value: 0.6},
		},
	}
	trend := trendFromSeries(series)
	assert.Equal(t, recist.TrendIncreasing, trend.Direction)
	assert.Greater(t, trend.RatePerMinute, 0.0)
}

func TestTrendFromSeriesStableWithFewerThanTwoPoints(t *testing.T) {
	trend := trendFromSeries(recist.MetricSeries{Name: "cpu"})
	assert.Equal(t, recist.TrendStable, trend.Direction)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
