package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/gwillem/lerobot-rlds/pkg/config"
	"github.com/gwillem/lerobot-rlds/pkg/embed"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

type InitCommand struct {
	Output string `short:"o" long:"output" default:"rlds.yaml" description:"Config file to write"`
}

func (c *InitCommand) Execute(args []string) error {
	if _, err := os.Stat(c.Output); err == nil {
		overwrite := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s exists. Overwrite?", c.Output)).
				Value(&overwrite),
		))
		if err := form.Run(); err != nil {
			return err
		}
		if !overwrite {
			return nil
		}
	}

	cfg := config.Default()
	workers := strconv.Itoa(cfg.Workers)

	var variants []huh.Option[string]
	for _, name := range schema.Names() {
		v, _ := schema.Lookup(name)
		variants = append(variants, huh.NewOption(fmt.Sprintf("%s (%s)", name, v.Description), name))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Dataset variant").
				Description("Schema and raw file layout").
				Options(variants...).
				Value(&cfg.Variant),
			huh.NewInput().
				Title("Language instruction").
				Value(&cfg.Instruction),
			huh.NewInput().
				Title("Output directory").
				Value(&cfg.OutDir),
			huh.NewInput().
				Title("Workers").
				Value(&workers).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(s); err != nil || n < 1 {
						return errors.New("enter a positive number")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Instruction embedding").
				Options(
					huh.NewOption("OpenAI-compatible API (set OPENAI_API_KEY or RLDS_EMBEDDING_API_KEY)", embed.ProviderOpenAI),
					huh.NewOption("Offline feature hashing", embed.ProviderHash),
				).
				Value(&cfg.Embedding.Provider),
			huh.NewInput().
				Title("Catalog database").
				Description("Leave empty to skip").
				Value(&cfg.Catalog),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.Workers, _ = strconv.Atoi(workers)

	if err := config.Save(c.Output, &cfg); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("Wrote " + c.Output))
	fmt.Println("Build the dataset with: " + headerStyle.Render("rlds build"))
	return nil
}
