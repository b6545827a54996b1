package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/gwillem/lerobot-rlds/pkg/builder"
	"github.com/gwillem/lerobot-rlds/pkg/catalog"
	"github.com/gwillem/lerobot-rlds/pkg/config"
	"github.com/gwillem/lerobot-rlds/pkg/dataset"
	"github.com/gwillem/lerobot-rlds/pkg/embed"
	"github.com/gwillem/lerobot-rlds/pkg/metrics"
)

type BuildCommand struct {
	Config      string            `short:"c" long:"config" description:"Config file (default: rlds.yaml if present)"`
	Variant     string            `long:"variant" description:"Dataset variant"`
	Out         string            `long:"out" description:"Output data directory"`
	Workers     int               `long:"workers" description:"Files parsed in parallel; above 1 episode order is not preserved"`
	Embedder    string            `long:"embedder" choice:"openai" choice:"hash" description:"Instruction embedding provider"`
	Catalog     string            `long:"catalog" description:"SQLite catalog to record the run in"`
	MetricsFile string            `long:"metrics-file" description:"Write Prometheus metrics to this file"`
	Splits      map[string]string `long:"split" key-value-delimiter:"=" description:"Split and glob as name=glob (repeatable)"`
}

func (c *BuildCommand) apply(cfg *config.Config) {
	if c.Variant != "" {
		cfg.Variant = c.Variant
	}
	if c.Out != "" {
		cfg.OutDir = c.Out
	}
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if c.Embedder != "" {
		cfg.Embedding.Provider = c.Embedder
	}
	if c.Catalog != "" {
		cfg.Catalog = c.Catalog
	}
	if c.MetricsFile != "" {
		cfg.MetricsFile = c.MetricsFile
	}
	if len(c.Splits) > 0 {
		cfg.Splits = c.Splits
	}
}

func (c *BuildCommand) Execute(args []string) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	c.apply(cfg)

	v, err := cfg.Schema()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	log := slog.Default()
	m := metrics.New()

	base, err := embed.New(cfg.Embedding)
	if err != nil {
		return err
	}
	emb := embed.NewCached(base)
	emb.OnLookup = m.RecordEmbedding

	b, err := builder.New(v, emb,
		builder.WithInstruction(cfg.Instruction),
		builder.WithResize(cfg.Resize),
		builder.WithWorkers(cfg.Workers),
		builder.WithLogger(log),
		builder.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	var run *catalog.Run
	var onEpisode dataset.EpisodeFunc
	if cfg.Catalog != "" {
		cat, err := catalog.Open(ctx, cfg.Catalog)
		if err != nil {
			return err
		}
		defer cat.Close()
		run, err = cat.BeginRun(ctx, v.Name, v.Version)
		if err != nil {
			return err
		}
		onEpisode = run.Record
		log.Debug("recording run", "catalog", cfg.Catalog, "run", run.ID)
	}

	splits := make([]string, 0, len(v.Splits))
	for name := range v.Splits {
		splits = append(splits, name)
	}
	sort.Strings(splits)

	w, err := dataset.NewWriter(v, dataset.Options{
		Dir:           cfg.OutDir,
		ShardEpisodes: cfg.ShardEpisodes,
		Logger:        log,
		OnEpisode:     onEpisode,
	}, splits...)
	if err != nil {
		return err
	}

	log.Info("building dataset", "name", v.Name, "version", v.Version, "out", w.Root())
	if _, err := b.Build(ctx, v.Splits, w); err != nil {
		if aerr := w.Abort(); aerr != nil {
			log.Warn("removing partial shards", "error", aerr)
		}
		return err
	}
	info, err := w.Close()
	if err != nil {
		return err
	}

	if run != nil {
		if err := run.Finish(ctx); err != nil {
			return err
		}
	}
	if cfg.MetricsFile != "" {
		if err := m.WriteFile(cfg.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	t := newTable("Split", "Episodes", "Steps", "Shards", "Bytes")
	for _, s := range info.Splits {
		t.Row(s.Name, fmt.Sprint(s.NumEpisodes), fmt.Sprint(s.NumSteps), fmt.Sprint(len(s.Files)), fmt.Sprint(s.NumBytes))
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("%s %s", info.Name, info.Version)))
	fmt.Println(t.Render())
	fmt.Println(successStyle.Render("Dataset written to " + w.Root()))
	return nil
}
