package rawep

import (
	"fmt"

	"github.com/gwillem/lerobot-rlds/pkg/npy"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

// Recording is a raw episode held in memory, in the shape Open expects to read back.
type Recording struct {
	Width, Height int
	Images        [][]uint8 // packed RGB, one frame per step
	WristImages   [][]uint8
	States        [][]float32
	Actions       [][]float32
}

// Len returns the number of recorded steps.
func (r *Recording) Len() int {
	return len(r.States)
}

// Append adds one timestep.
func (r *Recording) Append(img, wrist []uint8, state, action []float32) {
	r.Images = append(r.Images, img)
	r.WristImages = append(r.WristImages, wrist)
	r.States = append(r.States, state)
	r.Actions = append(r.Actions, action)
}

func (r *Recording) columns(src schema.Sources) (map[string]*npy.Array, error) {
	n := r.Len()
	if len(r.Images) != n || len(r.WristImages) != n || len(r.Actions) != n {
		return nil, fmt.Errorf("recording has %d images, %d wrist images, %d states, %d actions",
			len(r.Images), len(r.WristImages), n, len(r.Actions))
	}

	frameSize := r.Width * r.Height * 3
	pack := func(frames [][]uint8) ([]uint8, error) {
		out := make([]uint8, 0, n*frameSize)
		for i, f := range frames {
			if len(f) != frameSize {
				return nil, fmt.Errorf("frame %d has %d bytes, want %d", i, len(f), frameSize)
			}
			out = append(out, f...)
		}
		return out, nil
	}
	flatten := func(rows [][]float32) ([]float32, int, error) {
		if n == 0 {
			return nil, 0, nil
		}
		dim := len(rows[0])
		out := make([]float32, 0, n*dim)
		for i, row := range rows {
			if len(row) != dim {
				return nil, 0, fmt.Errorf("row %d has length %d, want %d", i, len(row), dim)
			}
			out = append(out, row...)
		}
		return out, dim, nil
	}

	images, err := pack(r.Images)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Image, err)
	}
	wrist, err := pack(r.WristImages)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.WristImage, err)
	}
	state, sd, err := flatten(r.States)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.State, err)
	}
	action, ad, err := flatten(r.Actions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Action, err)
	}

	frameShape := []int{n, r.Height, r.Width, 3}
	return map[string]*npy.Array{
		src.Image:      npy.FromUint8(frameShape, images),
		src.WristImage: npy.FromUint8(frameShape, wrist),
		src.State:      npy.FromFloat32([]int{n, sd}, state),
		src.Action:     npy.FromFloat32([]int{n, ad}, action),
	}, nil
}

// WriteFields saves the recording as an .npz archive with one array per source field.
func (r *Recording) WriteFields(path string, src schema.Sources) error {
	cols, err := r.columns(src)
	if err != nil {
		return err
	}
	return npy.WriteArchive(path, cols)
}

// WriteRecords saves the recording as a structured .npy array, one record per step.
func (r *Recording) WriteRecords(path string, src schema.Sources) error {
	cols, err := r.columns(src)
	if err != nil {
		return err
	}
	var fields []npy.Field
	for _, name := range []string{src.Image, src.WristImage, src.State, src.Action} {
		col := cols[name]
		fields = append(fields, npy.Field{Name: name, DType: col.DType, Shape: col.Shape[1:]})
	}
	rec, err := npy.Records(r.Len(), fields, cols)
	if err != nil {
		return err
	}
	return npy.WriteFile(path, rec)
}
