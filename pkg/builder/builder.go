// Package builder assembles RLDS episodes from raw episode files.
package builder

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gwillem/lerobot-rlds/pkg/embed"
	"github.com/gwillem/lerobot-rlds/pkg/metrics"
	"github.com/gwillem/lerobot-rlds/pkg/rawep"
	"github.com/gwillem/lerobot-rlds/pkg/rlds"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

// DefaultInstruction is the task description attached to every step.
const DefaultInstruction = "bus table"

// Sink receives assembled episodes.
type Sink interface {
	Write(split string, ex rlds.Example) error
}

// SkipFunc decides whether a loaded raw episode should be left out of the dataset.
type SkipFunc func(raw *rawep.Episode) bool

// Builder converts raw episode files of one variant into RLDS episodes.
type Builder struct {
	variant     schema.Variant
	embedder    embed.Embedder
	instruction string
	resize      bool
	workers     int
	skip        SkipFunc
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Builder.
type Option func(*Builder)

// WithInstruction sets the language instruction of every step.
func WithInstruction(text string) Option {
	return func(b *Builder) { b.instruction = text }
}

// WithResize scales frames to the variant resolution.
func WithResize(resize bool) Option {
	return func(b *Builder) { b.resize = resize }
}

// WithWorkers sets how many files Build parses at once. Values above one
// give up output ordering.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithSkip adds a filter for raw episodes. Episodes without steps are always skipped.
func WithSkip(fn SkipFunc) Option {
	return func(b *Builder) { b.skip = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.log = l }
}

// WithMetrics records build counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// New returns a builder for variant v. The embedder is shared by every
// episode the builder produces.
func New(v schema.Variant, e embed.Embedder, opts ...Option) (*Builder, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if e.Dimensions() != v.EmbeddingDim {
		return nil, fmt.Errorf("embedder produces %d values, variant %s wants %d", e.Dimensions(), v.Name, v.EmbeddingDim)
	}

	b := &Builder{
		variant:     v,
		embedder:    e,
		instruction: DefaultInstruction,
		workers:     1,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers < 1 {
		b.workers = 1
	}
	return b, nil
}

// Variant returns the variant the builder produces.
func (b *Builder) Variant() schema.Variant {
	return b.variant
}

// Parse loads one raw file and assembles its episode. ok is false when the
// file is skipped.
func (b *Builder) Parse(ctx context.Context, path string) (ex rlds.Example, ok bool, err error) {
	raw, err := rawep.Open(path, b.variant, rawep.WithResize(b.resize))
	if err != nil {
		return rlds.Example{}, false, err
	}
	n := raw.Len()
	if n == 0 || (b.skip != nil && b.skip(raw)) {
		return rlds.Example{}, false, nil
	}

	embedding, err := b.embedder.Embed(ctx, b.instruction)
	if err != nil {
		return rlds.Example{}, false, fmt.Errorf("%s: embed instruction: %w", path, err)
	}
	if len(embedding) != b.variant.EmbeddingDim {
		return rlds.Example{}, false, fmt.Errorf("%s: embedding has %d values, want %d", path, len(embedding), b.variant.EmbeddingDim)
	}

	ep := &rlds.Episode{
		Steps:    make([]rlds.Step, n),
		Metadata: rlds.EpisodeMetadata{FilePath: path},
	}
	for i := range ep.Steps {
		s, err := raw.Step(i)
		if err != nil {
			return rlds.Example{}, false, fmt.Errorf("%s: %w", path, err)
		}
		step := &ep.Steps[i]
		step.Observation = rlds.Observation{
			Image:      s.Image,
			WristImage: s.WristImage,
			State:      s.State,
		}
		step.Action = s.Action
		step.LanguageInstruction = b.instruction
		step.LanguageEmbedding = embedding
		rlds.MarkStep(step, i, n)
	}
	return rlds.Example{Key: path, Episode: ep}, true, nil
}

func glob(pattern string) ([]string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Generate yields one example per file matching pattern, in path order.
// Every call scans the filesystem again. Iteration stops at the first error.
func (b *Builder) Generate(ctx context.Context, pattern string) iter.Seq2[rlds.Example, error] {
	return b.generate(ctx, "default", pattern)
}

func (b *Builder) generate(ctx context.Context, split, pattern string) iter.Seq2[rlds.Example, error] {
	return func(yield func(rlds.Example, error) bool) {
		paths, err := glob(pattern)
		if err != nil {
			yield(rlds.Example{}, err)
			return
		}
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				yield(rlds.Example{}, err)
				return
			}
			start := time.Now()
			ex, ok, err := b.Parse(ctx, path)
			if err != nil {
				yield(rlds.Example{}, err)
				return
			}
			if !ok {
				b.log.Warn("skipping episode", "split", split, "path", path)
				b.metrics.RecordSkip(split)
				continue
			}
			b.metrics.RecordEpisode(split, ex.Episode.Len(), time.Since(start))
			if !yield(ex, nil) {
				return
			}
		}
	}
}

// GenerateParallel parses every file matching pattern using up to workers
// goroutines and passes each example to fn. Calls to fn are serialized but
// arrive in no particular order. The first error cancels the remaining work.
func (b *Builder) GenerateParallel(ctx context.Context, pattern string, workers int, fn func(rlds.Example) error) error {
	return b.generateParallel(ctx, "default", pattern, workers, fn)
}

func (b *Builder) generateParallel(ctx context.Context, split, pattern string, workers int, fn func(rlds.Example) error) error {
	paths, err := glob(pattern)
	if err != nil {
		return err
	}

	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var mu sync.Mutex

	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			ex, ok, err := b.Parse(ctx, path)
			if err != nil {
				return err
			}
			if !ok {
				b.log.Warn("skipping episode", "split", split, "path", path)
				b.metrics.RecordSkip(split)
				return nil
			}
			b.metrics.RecordEpisode(split, ex.Episode.Len(), time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			return fn(ex)
		})
	}
	return g.Wait()
}

// SplitSummary counts what one split produced.
type SplitSummary struct {
	Episodes int
	Steps    int
}

// Build converts every split, in name order, and writes the episodes to sink.
// splits maps split names to glob patterns.
func (b *Builder) Build(ctx context.Context, splits map[string]string, sink Sink) (map[string]SplitSummary, error) {
	names := make([]string, 0, len(splits))
	for name := range splits {
		names = append(names, name)
	}
	sort.Strings(names)

	summary := make(map[string]SplitSummary, len(splits))
	for _, split := range names {
		pattern := splits[split]
		b.log.Info("building split", "split", split, "pattern", pattern, "workers", b.workers)

		var sum SplitSummary
		write := func(ex rlds.Example) error {
			if err := sink.Write(split, ex); err != nil {
				return fmt.Errorf("write %s: %w", ex.Key, err)
			}
			sum.Episodes++
			sum.Steps += ex.Episode.Len()
			b.log.Debug("wrote episode", "split", split, "path", ex.Key, "steps", ex.Episode.Len())
			return nil
		}

		if b.workers > 1 {
			if err := b.generateParallel(ctx, split, pattern, b.workers, write); err != nil {
				return summary, fmt.Errorf("split %s: %w", split, err)
			}
		} else {
			for ex, err := range b.generate(ctx, split, pattern) {
				if err != nil {
					return summary, fmt.Errorf("split %s: %w", split, err)
				}
				if err := write(ex); err != nil {
					return summary, fmt.Errorf("split %s: %w", split, err)
				}
			}
		}

		summary[split] = sum
		b.log.Info("split done", "split", split, "episodes", sum.Episodes, "steps", sum.Steps)
	}
	return summary, nil
}
