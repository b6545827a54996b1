package tfexample

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gwillem/lerobot-rlds/pkg/rlds"
)

// fields walks the top-level fields of a message.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func bytesValue(v []byte) ([]byte, error) {
	b, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return b, nil
}

// Decode parses a serialized tf.train.Example.
func Decode(data []byte) (Features, error) {
	out := Features{}
	err := fields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		features, err := bytesValue(v)
		if err != nil {
			return err
		}
		return fields(features, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != 1 || typ != protowire.BytesType {
				return nil
			}
			entry, err := bytesValue(v)
			if err != nil {
				return err
			}
			return decodeEntry(out, entry)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decode example: %w", err)
	}
	return out, nil
}

func decodeEntry(out Features, entry []byte) error {
	var key string
	var feature Feature
	err := fields(entry, func(num protowire.Number, typ protowire.Type, v []byte) error {
		b, err := bytesValue(v)
		if err != nil {
			return err
		}
		switch num {
		case 1:
			key = string(b)
		case 2:
			feature, err = decodeFeature(b)
		}
		return err
	})
	if err != nil {
		return err
	}
	out[key] = feature
	return nil
}

func decodeFeature(b []byte) (Feature, error) {
	var f Feature
	err := fields(b, func(kind protowire.Number, typ protowire.Type, v []byte) error {
		list, err := bytesValue(v)
		if err != nil {
			return err
		}
		return fields(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != 1 {
				return nil
			}
			switch kind {
			case 1:
				b, err := bytesValue(v)
				if err != nil {
					return err
				}
				f.Bytes = append(f.Bytes, b)
			case 2:
				return decodeFloats(&f, typ, v)
			case 3:
				return decodeInts(&f, typ, v)
			}
			return nil
		})
	})
	return f, err
}

func decodeFloats(f *Feature, typ protowire.Type, v []byte) error {
	if f.Floats == nil {
		f.Floats = []float32{}
	}
	if typ == protowire.Fixed32Type {
		x, n := protowire.ConsumeFixed32(v)
		if n < 0 {
			return protowire.ParseError(n)
		}
		f.Floats = append(f.Floats, math.Float32frombits(x))
		return nil
	}
	packed, err := bytesValue(v)
	if err != nil {
		return err
	}
	for len(packed) > 0 {
		x, n := protowire.ConsumeFixed32(packed)
		if n < 0 {
			return protowire.ParseError(n)
		}
		f.Floats = append(f.Floats, math.Float32frombits(x))
		packed = packed[n:]
	}
	return nil
}

func decodeInts(f *Feature, typ protowire.Type, v []byte) error {
	if f.Ints == nil {
		f.Ints = []int64{}
	}
	if typ == protowire.VarintType {
		x, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return protowire.ParseError(n)
		}
		f.Ints = append(f.Ints, int64(x))
		return nil
	}
	packed, err := bytesValue(v)
	if err != nil {
		return err
	}
	for len(packed) > 0 {
		x, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return protowire.ParseError(n)
		}
		f.Ints = append(f.Ints, int64(x))
		packed = packed[n:]
	}
	return nil
}

// Len returns the number of steps, taken from the is_first feature.
func (fs Features) Len() int {
	return len(fs[IsFirstKey].Ints)
}

// ImageKey returns the key of the main camera feature.
func (fs Features) ImageKey() string {
	for k, f := range fs {
		if strings.HasPrefix(k, observationPrefix) && k != WristImageKey && f.Bytes != nil {
			return k
		}
	}
	return ""
}

// Episode rebuilds the episode, decoding images and splitting the flattened
// vectors by step count.
func (fs Features) Episode() (*rlds.Episode, error) {
	n := fs.Len()
	if n == 0 {
		return nil, rlds.ErrEmptyEpisode
	}

	split := func(key string) ([][]float32, error) {
		flat := fs[key].Floats
		if len(flat)%n != 0 {
			return nil, fmt.Errorf("%s: %d values do not split into %d steps", key, len(flat), n)
		}
		dim := len(flat) / n
		rows := make([][]float32, n)
		for i := range rows {
			rows[i] = flat[i*dim : (i+1)*dim]
		}
		return rows, nil
	}
	perStep := func(key string, have int) error {
		if have != n {
			return fmt.Errorf("%s: %d values for %d steps", key, have, n)
		}
		return nil
	}

	state, err := split(StateKey)
	if err != nil {
		return nil, err
	}
	action, err := split(ActionKey)
	if err != nil {
		return nil, err
	}
	embedding, err := split(LanguageEmbeddingKey)
	if err != nil {
		return nil, err
	}
	imageKey := fs.ImageKey()
	for key, have := range map[string]int{
		imageKey:               len(fs[imageKey].Bytes),
		WristImageKey:          len(fs[WristImageKey].Bytes),
		DiscountKey:            len(fs[DiscountKey].Floats),
		RewardKey:              len(fs[RewardKey].Floats),
		IsLastKey:              len(fs[IsLastKey].Ints),
		IsTerminalKey:          len(fs[IsTerminalKey].Ints),
		LanguageInstructionKey: len(fs[LanguageInstructionKey].Bytes),
	} {
		if err := perStep(key, have); err != nil {
			return nil, err
		}
	}

	ep := &rlds.Episode{Steps: make([]rlds.Step, n)}
	if paths := fs[FilePathKey].Bytes; len(paths) > 0 {
		ep.Metadata.FilePath = string(paths[0])
	}
	for i := range ep.Steps {
		img, err := decodeImage(fs[imageKey].Bytes[i])
		if err != nil {
			return nil, fmt.Errorf("step %d: %s: %w", i, imageKey, err)
		}
		wrist, err := decodeImage(fs[WristImageKey].Bytes[i])
		if err != nil {
			return nil, fmt.Errorf("step %d: %s: %w", i, WristImageKey, err)
		}
		ep.Steps[i] = rlds.Step{
			Observation:         rlds.Observation{Image: img, WristImage: wrist, State: state[i]},
			Action:              action[i],
			Discount:            fs[DiscountKey].Floats[i],
			Reward:              fs[RewardKey].Floats[i],
			IsFirst:             fs[IsFirstKey].Ints[i] != 0,
			IsLast:              fs[IsLastKey].Ints[i] != 0,
			IsTerminal:          fs[IsTerminalKey].Ints[i] != 0,
			LanguageInstruction: string(fs[LanguageInstructionKey].Bytes[i]),
			LanguageEmbedding:   embedding[i],
		}
	}
	return ep, nil
}

func decodeImage(b []byte) (*image.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}
