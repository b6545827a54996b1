// Package tfexample encodes episodes as tf.train.Example protocol buffers,
// with the nested step sequence flattened into one feature per step field.
package tfexample

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gwillem/lerobot-rlds/pkg/rlds"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

// Feature keys. The main image key depends on the variant, see ImageKey.
const (
	WristImageKey          = "steps/observation/wrist_image"
	StateKey               = "steps/observation/state"
	ActionKey              = "steps/action"
	DiscountKey            = "steps/discount"
	RewardKey              = "steps/reward"
	IsFirstKey             = "steps/is_first"
	IsLastKey              = "steps/is_last"
	IsTerminalKey          = "steps/is_terminal"
	LanguageInstructionKey = "steps/language_instruction"
	LanguageEmbeddingKey   = "steps/language_embedding"
	FilePathKey            = "episode_metadata/file_path"

	observationPrefix = "steps/observation/"
)

// ImageKey returns the feature key of the variant's main camera.
func ImageKey(v schema.Variant) string {
	return observationPrefix + v.ImageKey
}

// Feature holds exactly one of the three tf.train.Feature list kinds.
type Feature struct {
	Bytes  [][]byte
	Floats []float32
	Ints   []int64
}

// Features is the decoded feature map of an Example.
type Features map[string]Feature

// Encode serializes the episode of ex as a tf.train.Example.
func Encode(v schema.Variant, ex rlds.Example) ([]byte, error) {
	ep := ex.Episode
	if ep.Len() == 0 {
		return nil, rlds.ErrEmptyEpisode
	}

	var (
		images, wrist, instructions                [][]byte
		state, action, discount, reward, embedding []float32
		isFirst, isLast, isTerminal                []int64
	)
	for i, s := range ep.Steps {
		img, err := encodeImage(v, s.Observation.Image)
		if err != nil {
			return nil, fmt.Errorf("step %d: %s: %w", i, v.ImageKey, err)
		}
		wr, err := encodeImage(v, s.Observation.WristImage)
		if err != nil {
			return nil, fmt.Errorf("step %d: wrist_image: %w", i, err)
		}
		if len(s.Observation.State) != v.StateDim {
			return nil, fmt.Errorf("step %d: state has %d values, want %d", i, len(s.Observation.State), v.StateDim)
		}
		if len(s.Action) != v.ActionDim {
			return nil, fmt.Errorf("step %d: action has %d values, want %d", i, len(s.Action), v.ActionDim)
		}
		if len(s.LanguageEmbedding) != v.EmbeddingDim {
			return nil, fmt.Errorf("step %d: language embedding has %d values, want %d", i, len(s.LanguageEmbedding), v.EmbeddingDim)
		}

		images = append(images, img)
		wrist = append(wrist, wr)
		state = append(state, s.Observation.State...)
		action = append(action, s.Action...)
		discount = append(discount, s.Discount)
		reward = append(reward, s.Reward)
		isFirst = append(isFirst, boolInt(s.IsFirst))
		isLast = append(isLast, boolInt(s.IsLast))
		isTerminal = append(isTerminal, boolInt(s.IsTerminal))
		instructions = append(instructions, []byte(s.LanguageInstruction))
		embedding = append(embedding, s.LanguageEmbedding...)
	}

	features := Features{
		ImageKey(v):            {Bytes: images},
		WristImageKey:          {Bytes: wrist},
		StateKey:               {Floats: state},
		ActionKey:              {Floats: action},
		DiscountKey:            {Floats: discount},
		RewardKey:              {Floats: reward},
		IsFirstKey:             {Ints: isFirst},
		IsLastKey:              {Ints: isLast},
		IsTerminalKey:          {Ints: isTerminal},
		LanguageInstructionKey: {Bytes: instructions},
		LanguageEmbeddingKey:   {Floats: embedding},
		FilePathKey:            {Bytes: [][]byte{[]byte(ep.Metadata.FilePath)}},
	}
	return features.Marshal(), nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func encodeImage(v schema.Variant, img *image.NRGBA) ([]byte, error) {
	if img == nil {
		return nil, errors.New("missing image")
	}
	if b := img.Bounds(); b.Dx() != v.ImageWidth || b.Dy() != v.ImageHeight {
		return nil, fmt.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), v.ImageWidth, v.ImageHeight)
	}

	var buf bytes.Buffer
	var err error
	switch v.ImageEncoding {
	case schema.PNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case schema.JPEG:
		quality := v.JPEGQuality
		if quality <= 0 {
			quality = 95
		}
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		err = fmt.Errorf("unknown encoding %q", v.ImageEncoding)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Marshal encodes the features as a tf.train.Example, keys in sorted order.
func (fs Features) Marshal() []byte {
	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendBytes(entry, fs[k].marshal())

		features = protowire.AppendTag(features, 1, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var example []byte
	example = protowire.AppendTag(example, 1, protowire.BytesType)
	example = protowire.AppendBytes(example, features)
	return example
}

// marshal encodes a tf.train.Feature. Numeric lists are packed.
func (f Feature) marshal() []byte {
	var list []byte
	var kind protowire.Number
	switch {
	case f.Floats != nil:
		kind = 2
		packed := make([]byte, 0, 4*len(f.Floats))
		for _, x := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(x))
		}
		list = protowire.AppendTag(list, 1, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	case f.Ints != nil:
		kind = 3
		var packed []byte
		for _, x := range f.Ints {
			packed = protowire.AppendVarint(packed, uint64(x))
		}
		list = protowire.AppendTag(list, 1, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	default:
		kind = 1
		for _, b := range f.Bytes {
			list = protowire.AppendTag(list, 1, protowire.BytesType)
			list = protowire.AppendBytes(list, b)
		}
	}

	var out []byte
	out = protowire.AppendTag(out, kind, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}
