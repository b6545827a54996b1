package dataset

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/lerobot-rlds/pkg/rlds"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
	"github.com/gwillem/lerobot-rlds/pkg/tfexample"
)

func testVariant(t *testing.T) schema.Variant {
	t.Helper()
	v, err := schema.Lookup("example")
	require.NoError(t, err)
	v.ImageHeight, v.ImageWidth = 2, 2
	v.EmbeddingDim = 3
	return v
}

func example(v schema.Variant, key string, n int) rlds.Example {
	ep := &rlds.Episode{Steps: make([]rlds.Step, n), Metadata: rlds.EpisodeMetadata{FilePath: key}}
	for i := range ep.Steps {
		s := &ep.Steps[i]
		s.Observation.Image = image.NewNRGBA(image.Rect(0, 0, v.ImageWidth, v.ImageHeight))
		s.Observation.WristImage = image.NewNRGBA(image.Rect(0, 0, v.ImageWidth, v.ImageHeight))
		s.Observation.State = make([]float32, v.StateDim)
		s.Action = make([]float32, v.ActionDim)
		s.LanguageInstruction = "bus table"
		s.LanguageEmbedding = make([]float32, v.EmbeddingDim)
		rlds.MarkStep(s, i, n)
	}
	return rlds.Example{Key: key, Episode: ep}
}

type placement struct {
	split, key   string
	steps, shard int
}

func TestWriter(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()

	var placed []placement
	w, err := NewWriter(v, Options{
		Dir:           dir,
		ShardEpisodes: 2,
		OnEpisode: func(split, key string, steps, shard int) {
			placed = append(placed, placement{split, key, steps, shard})
		},
	}, "train", "val")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "example", "1.0.0"), w.Root())

	for i, key := range []string{"a.npy", "b.npy", "c.npy", "d.npy", "e.npy"} {
		require.NoError(t, w.Write("train", example(v, key, i+1)))
	}

	info, err := w.Close()
	require.NoError(t, err)

	train, ok := info.Split("train")
	require.True(t, ok)
	assert.Equal(t, 5, train.NumEpisodes)
	assert.Equal(t, 15, train.NumSteps)
	assert.Equal(t, []int{2, 2, 1}, train.ShardLengths)
	assert.Equal(t, []string{
		"example-train.tfrecord-00000-of-00003",
		"example-train.tfrecord-00001-of-00003",
		"example-train.tfrecord-00002-of-00003",
	}, train.Files)

	val, ok := info.Split("val")
	require.True(t, ok)
	assert.Zero(t, val.NumEpisodes)
	assert.Empty(t, val.Files)

	assert.Equal(t, []placement{
		{"train", "a.npy", 1, 0},
		{"train", "b.npy", 2, 0},
		{"train", "c.npy", 3, 1},
		{"train", "d.npy", 4, 1},
		{"train", "e.npy", 5, 2},
	}, placed)

	var total int64
	for _, name := range train.Files {
		st, err := os.Stat(filepath.Join(w.Root(), name))
		require.NoError(t, err)
		total += st.Size()
	}
	assert.Equal(t, train.NumBytes, total)

	leftovers, err := filepath.Glob(filepath.Join(w.Root(), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	read, err := ReadInfo(w.Root())
	require.NoError(t, err)
	assert.Equal(t, info, read)
	assert.FileExists(t, filepath.Join(w.Root(), FeaturesFile))

	examples, err := ReadShard(filepath.Join(w.Root(), train.Files[1]))
	require.NoError(t, err)
	require.Len(t, examples, 2)
	assert.Equal(t, [][]byte{[]byte("c.npy")}, examples[0][tfexample.FilePathKey].Bytes)
	assert.Equal(t, 4, examples[1].Len())

	_, err = w.Close()
	assert.Error(t, err)
	assert.Error(t, w.Write("train", example(v, "f.npy", 1)))
}

func TestWriter_EncodeError(t *testing.T) {
	v := testVariant(t)
	w, err := NewWriter(v, Options{Dir: t.TempDir()})
	require.NoError(t, err)

	err = w.Write("train", rlds.Example{Key: "empty.npy", Episode: &rlds.Episode{}})
	assert.ErrorContains(t, err, "empty.npy")
}

func TestWriter_Abort(t *testing.T) {
	v := testVariant(t)
	w, err := NewWriter(v, Options{Dir: t.TempDir(), ShardEpisodes: 1})
	require.NoError(t, err)
	require.NoError(t, w.Write("train", example(v, "a.npy", 2)))
	require.NoError(t, w.Write("train", example(v, "b.npy", 2)))

	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(w.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShardName(t *testing.T) {
	assert.Equal(t, "gello_ur-val.tfrecord-00003-of-00010", ShardName("gello_ur", "val", 3, 10))
}
