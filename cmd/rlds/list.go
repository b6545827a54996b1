package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gwillem/lerobot-rlds/pkg/catalog"
)

type ListCommand struct {
	Catalog string `long:"catalog" default:"rlds.db" description:"SQLite catalog"`
	Run     string `long:"run" description:"List the episodes of this run instead of all runs"`
}

func (c *ListCommand) Execute(args []string) error {
	ctx := context.Background()
	cat, err := catalog.Open(ctx, c.Catalog)
	if err != nil {
		return err
	}
	defer cat.Close()

	if c.Run != "" {
		eps, err := cat.Episodes(ctx, c.Run)
		if err != nil {
			return err
		}
		t := newTable("Split", "Episode", "Steps", "Shard")
		for _, e := range eps {
			t.Row(e.Split, e.Key, fmt.Sprint(e.Steps), fmt.Sprint(e.Shard))
		}
		fmt.Println(t.Render())
		return nil
	}

	runs, err := cat.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println(dimStyle.Render("No runs recorded in " + c.Catalog))
		return nil
	}
	t := newTable("Run", "Dataset", "Started", "Duration", "Episodes", "Steps")
	for _, r := range runs {
		took := "running"
		if !r.FinishedAt.IsZero() {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		t.Row(r.ID, r.Dataset+" "+r.Version, r.StartedAt.Format(time.DateTime), took,
			fmt.Sprint(r.Episodes), fmt.Sprint(r.Steps))
	}
	fmt.Println(t.Render())
	return nil
}
