// Package schema declares the dataset variants: the shape and type of every
// field in a step, and where each field comes from in a raw episode file.
package schema

import (
	"errors"
	"fmt"
	"sort"
)

// Encoding is the on-disk image encoding of a variant.
type Encoding string

const (
	PNG  Encoding = "png"
	JPEG Encoding = "jpeg"
)

// Layout identifies how a raw episode file arranges its arrays.
type Layout string

const (
	// LayoutFields is an .npz archive with one array per field, indexed by timestep.
	LayoutFields Layout = "fields"
	// LayoutRecords is an .npy structured array with one record per timestep.
	LayoutRecords Layout = "records"
)

// DefaultEmbeddingDim matches the Universal Sentence Encoder used by the reference datasets.
const DefaultEmbeddingDim = 512

// Sources names the raw arrays (or record fields) each feature is read from.
type Sources struct {
	Image      string `json:"image" yaml:"image"`
	WristImage string `json:"wrist_image" yaml:"wrist_image"`
	State      string `json:"state" yaml:"state"`
	Action     string `json:"action" yaml:"action"`
}

// Variant is one parameterization of the dataset schema.
type Variant struct {
	Name         string
	Version      string
	Description  string
	ReleaseNotes map[string]string

	ImageHeight   int
	ImageWidth    int
	ImageEncoding Encoding
	JPEGQuality   int
	StateDim      int
	ActionDim     int
	EmbeddingDim  int

	// ImageKey is the observation key of the main camera.
	ImageKey string
	Layout   Layout
	Sources  Sources

	// Splits maps split names to default glob patterns.
	Splits map[string]string

	StateDoc  string
	ActionDoc string
}

var ErrUnknownVariant = errors.New("unknown variant")

var builtin = map[string]Variant{
	"example": {
		Name:          "example",
		Version:       "1.0.0",
		Description:   "Example teleoperation dataset.",
		ReleaseNotes:  map[string]string{"1.0.0": "Initial release."},
		ImageHeight:   64,
		ImageWidth:    64,
		ImageEncoding: PNG,
		StateDim:      10,
		ActionDim:     10,
		EmbeddingDim:  DefaultEmbeddingDim,
		ImageKey:      "image",
		Layout:        LayoutRecords,
		Sources:       Sources{Image: "image", WristImage: "wrist_image", State: "state", Action: "action"},
		Splits: map[string]string{
			"train": "data/train/episode_*.npy",
			"val":   "data/val/episode_*.npy",
		},
		StateDoc:  "Robot state, consists of [7x robot joint angles, 2x gripper position, 1x door opening angle].",
		ActionDoc: "Robot action, consists of [7x joint velocities, 2x gripper velocities, 1x terminate episode].",
	},
	"gello_ur": {
		Name:          "gello_ur",
		Version:       "1.0.0",
		Description:   "UR arm demonstrations collected with a GELLO teleoperation device.",
		ReleaseNotes:  map[string]string{"1.0.0": "Initial release."},
		ImageHeight:   480,
		ImageWidth:    480,
		ImageEncoding: JPEG,
		JPEGQuality:   95,
		StateDim:      7,
		ActionDim:     7,
		EmbeddingDim:  DefaultEmbeddingDim,
		ImageKey:      "base_image",
		Layout:        LayoutFields,
		Sources:       Sources{Image: "base_rgb", WristImage: "wrist_rgb", State: "joint_positions", Action: "control"},
		Splits: map[string]string{
			"train": "data/episode_*.npz",
		},
		StateDoc:  "Robot state, consists of 7 robot joint angles.",
		ActionDoc: "Robot action, consists of 7 robot joint angles.",
	},
	"so101": {
		Name:          "so101",
		Version:       "1.0.0",
		Description:   "SO-101 leader/follower teleoperation recordings.",
		ReleaseNotes:  map[string]string{"1.0.0": "Initial release."},
		ImageHeight:   224,
		ImageWidth:    224,
		ImageEncoding: JPEG,
		JPEGQuality:   95,
		StateDim:      6,
		ActionDim:     6,
		EmbeddingDim:  DefaultEmbeddingDim,
		ImageKey:      "base_image",
		Layout:        LayoutFields,
		Sources:       Sources{Image: "base_rgb", WristImage: "wrist_rgb", State: "joint_positions", Action: "control"},
		Splits: map[string]string{
			"train": "recordings/episode_*.npz",
		},
		StateDoc:  "Follower joint positions normalized to [-100, 100], in motor order shoulder_pan..gripper.",
		ActionDoc: "Leader joint positions normalized to [-100, 100], in motor order shoulder_pan..gripper.",
	},
}

// Lookup returns a copy of the built-in variant called name.
func Lookup(name string) (Variant, error) {
	v, ok := builtin[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	v.Splits = cloneMap(v.Splits)
	v.ReleaseNotes = cloneMap(v.ReleaseNotes)
	return v, nil
}

// Names returns the names of all built-in variants, sorted.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate rejects variants that cannot describe a dataset.
func (v Variant) Validate() error {
	switch {
	case v.Name == "":
		return errors.New("variant name is empty")
	case v.ImageHeight <= 0 || v.ImageWidth <= 0:
		return fmt.Errorf("variant %s: bad image size %dx%d", v.Name, v.ImageWidth, v.ImageHeight)
	case v.StateDim <= 0 || v.ActionDim <= 0:
		return fmt.Errorf("variant %s: bad state/action dims %d/%d", v.Name, v.StateDim, v.ActionDim)
	case v.EmbeddingDim <= 0:
		return fmt.Errorf("variant %s: bad embedding dim %d", v.Name, v.EmbeddingDim)
	case v.ImageKey == "":
		return fmt.Errorf("variant %s: image key is empty", v.Name)
	}
	switch v.ImageEncoding {
	case PNG, JPEG:
	default:
		return fmt.Errorf("variant %s: unknown image encoding %q", v.Name, v.ImageEncoding)
	}
	switch v.Layout {
	case LayoutFields, LayoutRecords:
	default:
		return fmt.Errorf("variant %s: unknown layout %q", v.Name, v.Layout)
	}
	if v.Sources.Image == "" || v.Sources.WristImage == "" || v.Sources.State == "" || v.Sources.Action == "" {
		return fmt.Errorf("variant %s: every feature needs a source field", v.Name)
	}
	return nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
