// Package rawep loads raw per-episode recordings and slices them into timesteps.
package rawep

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/gwillem/lerobot-rlds/pkg/npy"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrShape        = errors.New("shape mismatch")
)

// Step holds the raw values of one timestep, already cast to the schema types.
type Step struct {
	Image      *image.NRGBA
	WristImage *image.NRGBA
	State      []float32
	Action     []float32
}

// Episode is a loaded raw episode file.
type Episode struct {
	Path string

	variant schema.Variant
	resize  bool
	n       int

	image, wrist   []uint8
	imgH, imgW     int
	wristH, wristW int
	state, action  []float32
}

// Option configures Open.
type Option func(*Episode)

// WithResize scales frames to the variant resolution instead of rejecting them.
func WithResize(resize bool) Option {
	return func(e *Episode) { e.resize = resize }
}

// Open reads the raw episode at path according to the variant's layout.
func Open(path string, v schema.Variant, opts ...Option) (*Episode, error) {
	e := &Episode{Path: path, variant: v}
	for _, opt := range opts {
		opt(e)
	}

	var (
		arrays map[string]*npy.Array
		err    error
	)
	switch v.Layout {
	case schema.LayoutFields:
		arrays, err = readFields(path, v.Sources)
	case schema.LayoutRecords:
		arrays, err = readRecords(path, v.Sources)
	default:
		err = fmt.Errorf("unknown layout %q", v.Layout)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := e.load(arrays); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}

func readFields(path string, src schema.Sources) (map[string]*npy.Array, error) {
	ar, err := npy.OpenArchive(path)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	arrays := make(map[string]*npy.Array, 4)
	for _, name := range []string{src.Image, src.WristImage, src.State, src.Action} {
		if !ar.Has(name) {
			return nil, fmt.Errorf("%w %q (have %v)", ErrMissingField, name, ar.Keys())
		}
		if arrays[name], err = ar.Array(name); err != nil {
			return nil, err
		}
	}
	return arrays, nil
}

func readRecords(path string, src schema.Sources) (map[string]*npy.Array, error) {
	rec, err := npy.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !rec.DType.IsStructured() {
		return nil, fmt.Errorf("%w: want a structured array, have %s", ErrShape, rec.DType)
	}
	if len(rec.Shape) != 1 {
		return nil, fmt.Errorf("%w: want one record per timestep, have shape %v", ErrShape, rec.Shape)
	}

	arrays := make(map[string]*npy.Array, 4)
	for _, name := range []string{src.Image, src.WristImage, src.State, src.Action} {
		if _, _, ok := rec.DType.Lookup(name); !ok {
			return nil, fmt.Errorf("%w %q (have %v)", ErrMissingField, name, rec.DType.FieldNames())
		}
		if arrays[name], err = rec.Field(name); err != nil {
			return nil, err
		}
	}
	return arrays, nil
}

func (e *Episode) load(arrays map[string]*npy.Array) error {
	src := e.variant.Sources

	img := arrays[src.Image]
	if len(img.Shape) == 0 {
		return fmt.Errorf("%w: %s is a scalar", ErrShape, src.Image)
	}
	// the main camera decides the episode length
	e.n = img.Shape[0]
	if e.n == 0 {
		return nil
	}

	var err error
	if e.image, e.imgH, e.imgW, err = frames(src.Image, img, e.n); err != nil {
		return err
	}
	if e.wrist, e.wristH, e.wristW, err = frames(src.WristImage, arrays[src.WristImage], e.n); err != nil {
		return err
	}
	if !e.resize {
		for _, hw := range [][2]int{{e.imgH, e.imgW}, {e.wristH, e.wristW}} {
			if hw[0] != e.variant.ImageHeight || hw[1] != e.variant.ImageWidth {
				return fmt.Errorf("%w: frames are %dx%d, variant %s wants %dx%d",
					ErrShape, hw[1], hw[0], e.variant.Name, e.variant.ImageWidth, e.variant.ImageHeight)
			}
		}
	}
	if e.state, err = vectors(src.State, arrays[src.State], e.n, e.variant.StateDim); err != nil {
		return err
	}
	if e.action, err = vectors(src.Action, arrays[src.Action], e.n, e.variant.ActionDim); err != nil {
		return err
	}
	return nil
}

func frames(name string, a *npy.Array, n int) (pix []uint8, h, w int, err error) {
	if len(a.Shape) != 4 || a.Shape[0] != n || a.Shape[3] != 3 {
		return nil, 0, 0, fmt.Errorf("%w: %s has shape %v, want (%d, H, W, 3)", ErrShape, name, a.Shape, n)
	}
	pix, err = a.Uint8s()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%s: %w", name, err)
	}
	return pix, a.Shape[1], a.Shape[2], nil
}

func vectors(name string, a *npy.Array, n, dim int) ([]float32, error) {
	if len(a.Shape) != 2 || a.Shape[0] != n || a.Shape[1] != dim {
		return nil, fmt.Errorf("%w: %s has shape %v, want (%d, %d)", ErrShape, name, a.Shape, n, dim)
	}
	v, err := a.Float32s()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// Len returns the number of timesteps.
func (e *Episode) Len() int {
	return e.n
}

// Step returns timestep i.
func (e *Episode) Step(i int) (Step, error) {
	if i < 0 || i >= e.n {
		return Step{}, fmt.Errorf("step %d out of range [0, %d)", i, e.n)
	}
	sd, ad := e.variant.StateDim, e.variant.ActionDim
	return Step{
		Image:      e.frame(e.image, i, e.imgH, e.imgW),
		WristImage: e.frame(e.wrist, i, e.wristH, e.wristW),
		State:      append([]float32(nil), e.state[i*sd:(i+1)*sd]...),
		Action:     append([]float32(nil), e.action[i*ad:(i+1)*ad]...),
	}, nil
}

func (e *Episode) frame(pix []uint8, i, h, w int) *image.NRGBA {
	size := h * w * 3
	img := FromRGB(pix[i*size:(i+1)*size], w, h)
	if w != e.variant.ImageWidth || h != e.variant.ImageHeight {
		img = imaging.Resize(img, e.variant.ImageWidth, e.variant.ImageHeight, imaging.Lanczos)
	}
	return img
}
