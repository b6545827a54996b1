package builder

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/lerobot-rlds/pkg/embed"
	"github.com/gwillem/lerobot-rlds/pkg/metrics"
	"github.com/gwillem/lerobot-rlds/pkg/rawep"
	"github.com/gwillem/lerobot-rlds/pkg/rlds"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

const frameSize = 4

func testVariant(t *testing.T) schema.Variant {
	t.Helper()
	v, err := schema.Lookup("gello_ur")
	require.NoError(t, err)
	v.ImageHeight, v.ImageWidth = frameSize, frameSize
	return v
}

func writeEpisode(t *testing.T, v schema.Variant, path string, steps int) {
	t.Helper()
	r := &rawep.Recording{Width: frameSize, Height: frameSize}
	for i := 0; i < steps; i++ {
		state := make([]float32, v.StateDim)
		action := make([]float32, v.ActionDim)
		for j := range state {
			state[j] = float32(i*10 + j)
		}
		for j := range action {
			action[j] = float32(i)
		}
		frame := make([]uint8, frameSize*frameSize*3)
		r.Append(frame, frame, state, action)
	}
	require.NoError(t, r.WriteFields(path, v.Sources))
}

func newBuilder(t *testing.T, v schema.Variant, opts ...Option) *Builder {
	t.Helper()
	b, err := New(v, embed.NewHash(v.EmbeddingDim), opts...)
	require.NoError(t, err)
	return b
}

func collect(t *testing.T, b *Builder, pattern string) []rlds.Example {
	t.Helper()
	var out []rlds.Example
	for ex, err := range b.Generate(context.Background(), pattern) {
		require.NoError(t, err)
		out = append(out, ex)
	}
	return out
}

func TestGenerate_ThreeSteps(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "episode_0.npz")
	writeEpisode(t, v, path, 3)

	examples := collect(t, newBuilder(t, v), filepath.Join(dir, "episode_*.npz"))
	require.Len(t, examples, 1)

	ep := examples[0].Episode
	require.Len(t, ep.Steps, 3)
	require.NoError(t, ep.Validate())
	assert.Equal(t, path, examples[0].Key)
	assert.Equal(t, path, ep.Metadata.FilePath)

	var first, last, terminal []bool
	var rewards []float32
	for _, s := range ep.Steps {
		assert.Len(t, s.Observation.State, 7)
		assert.Len(t, s.Action, 7)
		assert.Len(t, s.LanguageEmbedding, schema.DefaultEmbeddingDim)
		assert.Equal(t, DefaultInstruction, s.LanguageInstruction)
		assert.Equal(t, float32(1), s.Discount)
		first = append(first, s.IsFirst)
		last = append(last, s.IsLast)
		terminal = append(terminal, s.IsTerminal)
		rewards = append(rewards, s.Reward)
	}
	assert.Equal(t, []bool{true, false, false}, first)
	assert.Equal(t, []bool{false, false, true}, last)
	assert.Equal(t, []bool{false, false, true}, terminal)
	assert.Equal(t, []float32{0, 0, 1}, rewards)
	assert.Equal(t, float32(21), ep.Steps[2].Observation.State[1])
}

func TestGenerate_EmptyMatch(t *testing.T) {
	b := newBuilder(t, testVariant(t))
	examples := collect(t, b, filepath.Join(t.TempDir(), "episode_*.npz"))
	assert.Empty(t, examples)
}

func TestGenerate_TwoFiles(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "episode_0.npz")
	b := filepath.Join(dir, "episode_1.npz")
	writeEpisode(t, v, a, 2)
	writeEpisode(t, v, b, 5)

	examples := collect(t, newBuilder(t, v), filepath.Join(dir, "episode_*.npz"))
	require.Len(t, examples, 2)
	assert.Equal(t, a, examples[0].Episode.Metadata.FilePath)
	assert.Equal(t, b, examples[1].Episode.Metadata.FilePath)
	assert.Equal(t, 2, examples[0].Episode.Len())
	assert.Equal(t, 5, examples[1].Episode.Len())
}

func TestGenerate_StepCountMatchesSource(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	for i, n := range []int{1, 4, 9} {
		writeEpisode(t, v, filepath.Join(dir, fmt.Sprintf("episode_%d.npz", i)), n)
	}

	examples := collect(t, newBuilder(t, v), filepath.Join(dir, "*.npz"))
	require.Len(t, examples, 3)
	for i, n := range []int{1, 4, 9} {
		assert.Equal(t, n, examples[i].Episode.Len())
		assert.NoError(t, examples[i].Episode.Validate())
	}
}

func TestGenerate_Restartable(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	pattern := filepath.Join(dir, "episode_*.npz")
	writeEpisode(t, v, filepath.Join(dir, "episode_0.npz"), 2)

	b := newBuilder(t, v)
	seq := b.Generate(context.Background(), pattern)

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 1, count())

	writeEpisode(t, v, filepath.Join(dir, "episode_1.npz"), 2)
	assert.Equal(t, 2, count())
}

func TestGenerate_Skips(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	writeEpisode(t, v, filepath.Join(dir, "episode_0.npz"), 0)
	writeEpisode(t, v, filepath.Join(dir, "episode_1.npz"), 2)
	writeEpisode(t, v, filepath.Join(dir, "episode_2.npz"), 6)

	m := metrics.New()
	b := newBuilder(t, v,
		WithMetrics(m),
		WithSkip(func(raw *rawep.Episode) bool { return raw.Len() > 5 }),
	)
	examples := collect(t, b, filepath.Join(dir, "episode_*.npz"))
	require.Len(t, examples, 1)
	assert.Equal(t, filepath.Join(dir, "episode_1.npz"), examples[0].Key)
}

func TestGenerate_MalformedStops(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	writeEpisode(t, v, filepath.Join(dir, "episode_0.npz"), 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "episode_1.npz"), []byte("garbage"), 0644))
	writeEpisode(t, v, filepath.Join(dir, "episode_2.npz"), 2)

	var ok int
	var errs []error
	for _, err := range newBuilder(t, v).Generate(context.Background(), filepath.Join(dir, "episode_*.npz")) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}
	assert.Equal(t, 1, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "episode_1.npz")
}

func TestParse_ShapeOutOfRange(t *testing.T) {
	v := testVariant(t)
	path := filepath.Join(t.TempDir(), "episode_0.npz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range []string{v.Sources.Image, v.Sources.WristImage, v.Sources.State, v.Sources.Action} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
		require.NoError(t, err)
		header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, 3), }\n", int64(1)<<62)
		raw := binary.LittleEndian.AppendUint16([]byte("\x93NUMPY\x01\x00"), uint16(len(header)))
		raw = append(append(raw, header...), make([]byte, 12)...)
		_, err = w.Write(raw)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	var ok bool
	assert.NotPanics(t, func() {
		_, ok, err = newBuilder(t, v).Parse(context.Background(), path)
	})
	assert.Error(t, err)
	assert.False(t, ok)
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, f.err }
func (f failingEmbedder) Dimensions() int { return schema.DefaultEmbeddingDim }

func TestParse_EmbeddingError(t *testing.T) {
	v := testVariant(t)
	path := filepath.Join(t.TempDir(), "episode_0.npz")
	writeEpisode(t, v, path, 2)

	boom := errors.New("model offline")
	b, err := New(v, failingEmbedder{err: boom})
	require.NoError(t, err)

	_, _, err = b.Parse(context.Background(), path)
	assert.ErrorIs(t, err, boom)
}

func TestNew_DimensionMismatch(t *testing.T) {
	_, err := New(testVariant(t), embed.NewHash(128))
	assert.Error(t, err)
}

func TestGenerateParallel(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	var want []string
	for i := 0; i < 7; i++ {
		path := filepath.Join(dir, fmt.Sprintf("episode_%d.npz", i))
		writeEpisode(t, v, path, i+1)
		want = append(want, path)
	}

	var got []string
	err := newBuilder(t, v).GenerateParallel(context.Background(), filepath.Join(dir, "*.npz"), 3, func(ex rlds.Example) error {
		assert.NoError(t, ex.Episode.Validate())
		got = append(got, ex.Key)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func TestGenerateParallel_ZeroWorkers(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	writeEpisode(t, v, filepath.Join(dir, "episode_0.npz"), 2)

	var n int
	err := newBuilder(t, v).GenerateParallel(context.Background(), filepath.Join(dir, "*.npz"), 0, func(ex rlds.Example) error {
		assert.Equal(t, 2, ex.Episode.Len())
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGenerateParallel_Error(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	writeEpisode(t, v, filepath.Join(dir, "episode_0.npz"), 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "episode_1.npz"), []byte("garbage"), 0644))

	err := newBuilder(t, v).GenerateParallel(context.Background(), filepath.Join(dir, "*.npz"), 2, func(rlds.Example) error { return nil })
	assert.Error(t, err)
}

type memSink map[string][]rlds.Example

func (m memSink) Write(split string, ex rlds.Example) error {
	m[split] = append(m[split], ex)
	return nil
}

func TestBuild(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	for _, split := range []string{"train", "val"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, split), 0755))
	}
	writeEpisode(t, v, filepath.Join(dir, "train", "episode_0.npz"), 3)
	writeEpisode(t, v, filepath.Join(dir, "train", "episode_1.npz"), 4)
	writeEpisode(t, v, filepath.Join(dir, "val", "episode_0.npz"), 2)

	splits := map[string]string{
		"train": filepath.Join(dir, "train", "episode_*.npz"),
		"val":   filepath.Join(dir, "val", "episode_*.npz"),
		"test":  filepath.Join(dir, "test", "episode_*.npz"),
	}

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			sink := memSink{}
			summary, err := newBuilder(t, v, WithWorkers(workers)).Build(context.Background(), splits, sink)
			require.NoError(t, err)

			assert.Equal(t, SplitSummary{Episodes: 2, Steps: 7}, summary["train"])
			assert.Equal(t, SplitSummary{Episodes: 1, Steps: 2}, summary["val"])
			assert.Equal(t, SplitSummary{}, summary["test"])
			assert.Len(t, sink["train"], 2)
			assert.Len(t, sink["val"], 1)
			assert.Empty(t, sink["test"])
		})
	}
}

func TestBuild_Cancelled(t *testing.T) {
	v := testVariant(t)
	dir := t.TempDir()
	writeEpisode(t, v, filepath.Join(dir, "episode_0.npz"), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newBuilder(t, v).Build(ctx, map[string]string{"train": filepath.Join(dir, "*.npz")}, memSink{})
	assert.ErrorIs(t, err, context.Canceled)
}
