package main

import (
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	Verbose bool `short:"v" long:"verbose" description:"Enable debug logging"`

	Build    BuildCommand    `command:"build" description:"Convert raw episode files into an RLDS dataset"`
	Variants VariantsCommand `command:"variants" description:"List the built-in dataset variants"`
	Inspect  InspectCommand  `command:"inspect" description:"Summarize the episodes of a dataset shard"`
	List     ListCommand     `command:"list" alias:"ls" description:"List build runs recorded in a catalog"`
	Init     InitCommand     `command:"init" description:"Write a starter rlds.yaml"`
	Setup    SetupCommand    `command:"setup" description:"Scan for SO-101 arms and calibrate them"`
	Record   RecordCommand   `command:"record" description:"Record raw episodes by teleoperating an SO-101 arm pair"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "rlds - build RLDS datasets from robot teleoperation recordings"

	// API keys for the embedding provider usually live in .env.
	_ = godotenv.Load()

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		level := slog.LevelInfo
		if opts.Verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
