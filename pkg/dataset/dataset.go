// Package dataset writes encoded episodes into TFRecord shards along with
// the dataset_info.json and features.json files that describe them.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gwillem/lerobot-rlds/pkg/rlds"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
	"github.com/gwillem/lerobot-rlds/pkg/tfexample"
	"github.com/gwillem/lerobot-rlds/pkg/tfrecord"
)

const (
	InfoFile     = "dataset_info.json"
	FeaturesFile = "features.json"

	DefaultShardEpisodes = 100
)

// Info is the content of dataset_info.json.
type Info struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	ReleaseNotes map[string]string `json:"releaseNotes,omitempty"`
	FileFormat   string            `json:"fileFormat"`
	ImageKey     string            `json:"imageKey"`
	Splits       []SplitInfo       `json:"splits"`
}

// SplitInfo describes the shards of one split.
type SplitInfo struct {
	Name         string   `json:"name"`
	NumEpisodes  int      `json:"numEpisodes"`
	NumSteps     int      `json:"numSteps"`
	NumBytes     int64    `json:"numBytes"`
	ShardLengths []int    `json:"shardLengths"`
	Files        []string `json:"files"`
}

// Split returns the named split.
func (i *Info) Split(name string) (SplitInfo, bool) {
	for _, s := range i.Splits {
		if s.Name == name {
			return s, true
		}
	}
	return SplitInfo{}, false
}

// EpisodeFunc is told where each episode was written.
type EpisodeFunc func(split, key string, steps, shard int)

// Options configures a Writer.
type Options struct {
	// Dir is the data directory; shards go to Dir/<name>/<version>.
	Dir string
	// ShardEpisodes caps the number of episodes per shard.
	ShardEpisodes int
	Logger        *slog.Logger
	OnEpisode     EpisodeFunc
}

// Writer implements the builder sink for one dataset version.
type Writer struct {
	variant   schema.Variant
	root      string
	perShard  int
	log       *slog.Logger
	onEpisode EpisodeFunc
	splits    map[string]*splitWriter
	closed    bool
}

type splitWriter struct {
	name   string
	shards []shard
	steps  int

	file *os.File
	buf  *bufio.Writer
	rec  *tfrecord.Writer
}

type shard struct {
	tmp      string
	episodes int
	bytes    int64
}

// NewWriter prepares the output directory. Splits named up front are listed
// in dataset_info.json even if they receive no episodes.
func NewWriter(v schema.Variant, opts Options, splits ...string) (*Writer, error) {
	if opts.ShardEpisodes <= 0 {
		opts.ShardEpisodes = DefaultShardEpisodes
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	root := filepath.Join(opts.Dir, v.Name, v.Version)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	w := &Writer{
		variant:   v,
		root:      root,
		perShard:  opts.ShardEpisodes,
		log:       opts.Logger,
		onEpisode: opts.OnEpisode,
		splits:    make(map[string]*splitWriter),
	}
	for _, name := range splits {
		w.split(name)
	}
	return w, nil
}

// Root returns the directory holding the shards.
func (w *Writer) Root() string {
	return w.root
}

func (w *Writer) split(name string) *splitWriter {
	s, ok := w.splits[name]
	if !ok {
		s = &splitWriter{name: name}
		w.splits[name] = s
	}
	return s
}

// Write encodes ex and appends it to the current shard of split.
func (w *Writer) Write(split string, ex rlds.Example) error {
	if w.closed {
		return errors.New("dataset writer is closed")
	}
	data, err := tfexample.Encode(w.variant, ex)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ex.Key, err)
	}

	s := w.split(split)
	if s.rec == nil || s.current().episodes >= w.perShard {
		if err := w.roll(s); err != nil {
			return err
		}
	}
	if err := s.rec.Write(data); err != nil {
		return err
	}

	cur := s.current()
	cur.episodes++
	cur.bytes = s.rec.Written()
	s.steps += ex.Episode.Len()

	if w.onEpisode != nil {
		w.onEpisode(split, ex.Key, ex.Episode.Len(), len(s.shards)-1)
	}
	return nil
}

func (s *splitWriter) current() *shard {
	return &s.shards[len(s.shards)-1]
}

func (s *splitWriter) closeShard() error {
	if s.file == nil {
		return nil
	}
	err := s.buf.Flush()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file, s.buf, s.rec = nil, nil, nil
	return err
}

func (w *Writer) roll(s *splitWriter) error {
	if err := s.closeShard(); err != nil {
		return fmt.Errorf("close shard: %w", err)
	}
	tmp := filepath.Join(w.root, fmt.Sprintf("%s-%s.tfrecord-%05d.tmp", w.variant.Name, s.name, len(s.shards)))
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	s.file = f
	s.buf = bufio.NewWriterSize(f, 1<<20)
	s.rec = tfrecord.NewWriter(s.buf)
	s.shards = append(s.shards, shard{tmp: tmp})
	w.log.Debug("opened shard", "split", s.name, "path", tmp)
	return nil
}

// ShardName returns the final file name of shard i of n.
func ShardName(dataset, split string, i, n int) string {
	return fmt.Sprintf("%s-%s.tfrecord-%05d-of-%05d", dataset, split, i, n)
}

// Close finishes every shard, gives shards their final names and writes the
// dataset metadata.
func (w *Writer) Close() (*Info, error) {
	if w.closed {
		return nil, errors.New("dataset writer is closed")
	}
	w.closed = true

	names := make([]string, 0, len(w.splits))
	for name := range w.splits {
		names = append(names, name)
	}
	sort.Strings(names)

	info := &Info{
		Name:         w.variant.Name,
		Version:      w.variant.Version,
		Description:  w.variant.Description,
		ReleaseNotes: w.variant.ReleaseNotes,
		FileFormat:   "tfrecord",
		ImageKey:     tfexample.ImageKey(w.variant),
	}
	for _, name := range names {
		s := w.splits[name]
		if err := s.closeShard(); err != nil {
			return nil, fmt.Errorf("close shard: %w", err)
		}

		si := SplitInfo{Name: name, NumSteps: s.steps, ShardLengths: []int{}, Files: []string{}}
		for i, sh := range s.shards {
			final := ShardName(w.variant.Name, name, i, len(s.shards))
			if err := os.Rename(sh.tmp, filepath.Join(w.root, final)); err != nil {
				return nil, fmt.Errorf("finalize shard: %w", err)
			}
			si.NumEpisodes += sh.episodes
			si.NumBytes += sh.bytes
			si.ShardLengths = append(si.ShardLengths, sh.episodes)
			si.Files = append(si.Files, final)
		}
		info.Splits = append(info.Splits, si)
		w.log.Info("split written", "split", name, "episodes", si.NumEpisodes, "shards", len(si.Files))
	}

	if err := writeJSON(filepath.Join(w.root, InfoFile), info); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(w.root, FeaturesFile), w.variant.Features()); err != nil {
		return nil, err
	}
	return info, nil
}

// Abort closes open shards and removes every shard written so far.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	for _, s := range w.splits {
		if err := s.closeShard(); err != nil {
			errs = append(errs, err)
		}
		for _, sh := range s.shards {
			if err := os.Remove(sh.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadInfo loads dataset_info.json from a dataset version directory.
func ReadInfo(root string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(root, InfoFile))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse %s: %w", InfoFile, err)
	}
	return &info, nil
}

// ReadShard decodes every example in a shard file.
func ReadShard(path string) ([]tfexample.Features, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := tfrecord.NewReader(bufio.NewReader(f))
	var out []tfexample.Features
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		fs, err := tfexample.Decode(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, len(out), err)
		}
		out = append(out, fs)
	}
}
