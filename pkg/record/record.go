// Package record turns teleoperation states into raw episode files that the
// dataset builder reads back.
package record

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/gwillem/lerobot-rlds/pkg/rawep"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
	"github.com/gwillem/lerobot-rlds/pkg/teleop"
)

// FrameSource supplies the camera frames of one timestep.
type FrameSource interface {
	Frames(ctx context.Context) (base, wrist *image.NRGBA, err error)
}

// BlankFrames is a FrameSource for rigs without cameras. It yields black frames.
type BlankFrames struct {
	Width, Height int
}

// Frames returns a pair of black Width x Height frames.
func (b BlankFrames) Frames(context.Context) (*image.NRGBA, *image.NRGBA, error) {
	rect := image.Rect(0, 0, b.Width, b.Height)
	return image.NewNRGBA(rect), image.NewNRGBA(rect), nil
}

var ErrNotRecording = errors.New("not recording")

// Recorder accumulates states of the current episode and saves each episode
// as episode_NNNN in the variant's raw layout.
type Recorder struct {
	variant schema.Variant
	dir     string
	frames  FrameSource
	log     *slog.Logger

	mu   sync.Mutex
	cur  *rawep.Recording
	next int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// New creates a recorder writing into dir. Numbering continues after the
// episodes already in dir.
func New(v schema.Variant, dir string, frames FrameSource, opts ...Option) (*Recorder, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	if frames == nil {
		frames = BlankFrames{Width: v.ImageWidth, Height: v.ImageHeight}
	}

	r := &Recorder{
		variant: v,
		dir:     dir,
		frames:  frames,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	existing, err := filepath.Glob(filepath.Join(dir, "episode_*"+r.ext()))
	if err != nil {
		return nil, err
	}
	sort.Strings(existing)
	for _, path := range existing {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(path), "episode_%d", &n); err == nil && n >= r.next {
			r.next = n + 1
		}
	}
	return r, nil
}

func (r *Recorder) ext() string {
	if r.variant.Layout == schema.LayoutRecords {
		return ".npy"
	}
	return ".npz"
}

// NextPath returns the file the next saved episode goes to.
func (r *Recorder) NextPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path(r.next)
}

func (r *Recorder) path(i int) string {
	return filepath.Join(r.dir, fmt.Sprintf("episode_%04d%s", i, r.ext()))
}

// Start begins a new episode, dropping any unsaved one.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = &rawep.Recording{Width: r.variant.ImageWidth, Height: r.variant.ImageHeight}
}

// Recording reports whether an episode is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Len returns the number of steps in the current episode.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return 0
	}
	return r.cur.Len()
}

// Add appends one state to the current episode. The follower positions are
// the observed state and the leader positions the action. States carrying an
// error are ignored.
func (r *Recorder) Add(ctx context.Context, s teleop.State) error {
	if !r.Recording() {
		return ErrNotRecording
	}
	if s.Error != nil || s.Leader == nil || s.Follower == nil {
		return nil
	}

	state, action := s.Follower.Vector(), s.Leader.Vector()
	if len(state) != r.variant.StateDim || len(action) != r.variant.ActionDim {
		return fmt.Errorf("arm has %d joints, variant %s wants state %d and action %d",
			len(state), r.variant.Name, r.variant.StateDim, r.variant.ActionDim)
	}

	base, wrist, err := r.frames.Frames(ctx)
	if err != nil {
		return fmt.Errorf("capture frames: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return ErrNotRecording
	}
	r.cur.Append(rawep.ToRGB(r.fit(base)), rawep.ToRGB(r.fit(wrist)), state, action)
	return nil
}

func (r *Recorder) fit(img *image.NRGBA) *image.NRGBA {
	w, h := r.variant.ImageWidth, r.variant.ImageHeight
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img
	}
	return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
}

// Stop ends the current episode and saves it. An episode without steps is
// dropped and Stop returns an empty path.
func (r *Recorder) Stop() (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return "", 0, ErrNotRecording
	}
	rec := r.cur
	r.cur = nil

	n := rec.Len()
	if n == 0 {
		r.log.Warn("dropping empty episode")
		return "", 0, nil
	}

	path := r.path(r.next)
	var err error
	if r.variant.Layout == schema.LayoutRecords {
		err = rec.WriteRecords(path, r.variant.Sources)
	} else {
		err = rec.WriteFields(path, r.variant.Sources)
	}
	if err != nil {
		return "", 0, fmt.Errorf("save %s: %w", path, err)
	}
	r.next++
	r.log.Info("saved episode", "path", path, "steps", n)
	return path, n, nil
}

// Discard drops the current episode without saving.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = nil
}
