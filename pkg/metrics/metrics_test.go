package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.RecordEpisode("train", 3, 10*time.Millisecond)
	m.RecordEpisode("train", 5, 20*time.Millisecond)
	m.RecordEpisode("val", 2, time.Millisecond)
	m.RecordSkip("val")
	m.RecordEmbedding(false)
	m.RecordEmbedding(true)
	m.RecordEmbedding(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.episodes.WithLabelValues("train")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.steps.WithLabelValues("train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("val")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.embeddings.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embeddings.WithLabelValues("miss")))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEpisode("train", 1, time.Second)
		m.RecordSkip("train")
		m.RecordEmbedding(true)
	})
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.RecordEpisode("train", 4, time.Millisecond)

	path := filepath.Join(t.TempDir(), "rlds.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `rlds_episodes_total{split="train"} 1`)
	assert.Contains(t, string(data), `rlds_steps_total{split="train"} 4`)
}
