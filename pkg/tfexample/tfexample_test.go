package tfexample

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gwillem/lerobot-rlds/pkg/embed"
	"github.com/gwillem/lerobot-rlds/pkg/rlds"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

func variant(t *testing.T, name string) schema.Variant {
	t.Helper()
	v, err := schema.Lookup(name)
	require.NoError(t, err)
	v.ImageHeight, v.ImageWidth = 8, 8
	v.EmbeddingDim = 16
	return v
}

func solid(w, h int, c uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func episode(t *testing.T, v schema.Variant, n int) rlds.Example {
	t.Helper()
	emb, err := embed.NewHash(v.EmbeddingDim).Embed(t.Context(), "bus table")
	require.NoError(t, err)

	ep := &rlds.Episode{Steps: make([]rlds.Step, n), Metadata: rlds.EpisodeMetadata{FilePath: "data/episode_3.npz"}}
	for i := range ep.Steps {
		s := &ep.Steps[i]
		s.Observation.Image = solid(v.ImageWidth, v.ImageHeight, uint8(10*i))
		s.Observation.WristImage = solid(v.ImageWidth, v.ImageHeight, uint8(200-10*i))
		s.Observation.State = make([]float32, v.StateDim)
		s.Action = make([]float32, v.ActionDim)
		for j := range s.Observation.State {
			s.Observation.State[j] = float32(i) + float32(j)/4
		}
		for j := range s.Action {
			s.Action[j] = -float32(i)
		}
		s.LanguageInstruction = "bus table"
		s.LanguageEmbedding = emb
		rlds.MarkStep(s, i, n)
	}
	return rlds.Example{Key: ep.Metadata.FilePath, Episode: ep}
}

func TestRoundTrip_PNG(t *testing.T) {
	v := variant(t, "example")
	ex := episode(t, v, 3)

	data, err := Encode(v, ex)
	require.NoError(t, err)

	fs, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 3, fs.Len())
	assert.Equal(t, "steps/observation/image", fs.ImageKey())
	assert.Equal(t, []int64{1, 0, 0}, fs[IsFirstKey].Ints)
	assert.Equal(t, []int64{0, 0, 1}, fs[IsLastKey].Ints)
	assert.Equal(t, []float32{0, 0, 1}, fs[RewardKey].Floats)
	assert.Len(t, fs[StateKey].Floats, 3*10)
	assert.Equal(t, [][]byte{[]byte("data/episode_3.npz")}, fs[FilePathKey].Bytes)

	ep, err := fs.Episode()
	require.NoError(t, err)
	require.NoError(t, ep.Validate())
	assert.Equal(t, "data/episode_3.npz", ep.Metadata.FilePath)
	for i, s := range ep.Steps {
		want := ex.Episode.Steps[i]
		assert.Equal(t, want.Observation.State, s.Observation.State)
		assert.Equal(t, want.Action, s.Action)
		assert.Equal(t, want.LanguageEmbedding, s.LanguageEmbedding)
		assert.Equal(t, want.Observation.Image.Pix, s.Observation.Image.Pix)
		assert.Equal(t, want.Observation.WristImage.Pix, s.Observation.WristImage.Pix)
		assert.Equal(t, "bus table", s.LanguageInstruction)
	}
}

func TestRoundTrip_JPEG(t *testing.T) {
	v := variant(t, "gello_ur")
	data, err := Encode(v, episode(t, v, 2))
	require.NoError(t, err)

	fs, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "steps/observation/base_image", fs.ImageKey())

	jpegMagic := []byte{0xff, 0xd8}
	assert.Equal(t, jpegMagic, fs[ImageKey(v)].Bytes[0][:2])

	ep, err := fs.Episode()
	require.NoError(t, err)
	assert.Equal(t, 8, ep.Steps[1].Observation.Image.Bounds().Dx())
	assert.Len(t, ep.Steps[1].Observation.State, 7)
}

func TestEncode_Errors(t *testing.T) {
	v := variant(t, "example")

	_, err := Encode(v, rlds.Example{Episode: &rlds.Episode{}})
	assert.ErrorIs(t, err, rlds.ErrEmptyEpisode)

	ex := episode(t, v, 2)
	ex.Episode.Steps[1].Observation.Image = solid(4, 4, 0)
	_, err = Encode(v, ex)
	assert.ErrorContains(t, err, "step 1")

	ex = episode(t, v, 2)
	ex.Episode.Steps[0].Action = ex.Episode.Steps[0].Action[:3]
	_, err = Encode(v, ex)
	assert.ErrorContains(t, err, "action")
}

func TestDecode_Unpacked(t *testing.T) {
	var floats []byte
	for _, x := range []float32{1.5, -2} {
		floats = protowire.AppendTag(floats, 1, protowire.Fixed32Type)
		floats = protowire.AppendFixed32(floats, math.Float32bits(x))
	}
	var ints []byte
	for _, x := range []int64{1, 0} {
		ints = protowire.AppendTag(ints, 1, protowire.VarintType)
		ints = protowire.AppendVarint(ints, uint64(x))
	}

	entry := func(key string, kind protowire.Number, list []byte) []byte {
		var feature []byte
		feature = protowire.AppendTag(feature, kind, protowire.BytesType)
		feature = protowire.AppendBytes(feature, list)

		var e []byte
		e = protowire.AppendTag(e, 1, protowire.BytesType)
		e = protowire.AppendString(e, key)
		e = protowire.AppendTag(e, 2, protowire.BytesType)
		return protowire.AppendBytes(e, feature)
	}
	var features []byte
	for _, e := range [][]byte{entry(RewardKey, 2, floats), entry(IsFirstKey, 3, ints)} {
		features = protowire.AppendTag(features, 1, protowire.BytesType)
		features = protowire.AppendBytes(features, e)
	}
	var example []byte
	example = protowire.AppendTag(example, 1, protowire.BytesType)
	example = protowire.AppendBytes(example, features)

	fs, err := Decode(example)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, fs[RewardKey].Floats)
	assert.Equal(t, []int64{1, 0}, fs[IsFirstKey].Ints)
	assert.Equal(t, 2, fs.Len())
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte{0x0a, 0xff})
	assert.Error(t, err)
}

func TestFeatures_MarshalDeterministic(t *testing.T) {
	fs := Features{
		"b": {Floats: []float32{1}},
		"a": {Ints: []int64{2}},
		"c": {Bytes: [][]byte{[]byte("x")}},
	}
	assert.Equal(t, fs.Marshal(), fs.Marshal())

	back, err := Decode(fs.Marshal())
	require.NoError(t, err)
	assert.Equal(t, fs, back)
}
