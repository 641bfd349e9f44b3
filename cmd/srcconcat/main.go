// Command srcconcat concatenates a project's TypeScript, CSS and JSON
// sources into one document.
//
// Usage:
//
//	srcconcat [-src dir] [-out file] [-extra file] [-pace d] [-watch] [-quiet] [-debug] [-env file]
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"

	"github.com/vormadev/srcconcat/aggregate"
	"github.com/vormadev/srcconcat/config"
	"github.com/vormadev/srcconcat/kit/colorlog"
	"github.com/vormadev/srcconcat/kit/grace"
	"github.com/vormadev/srcconcat/watch"
)

const (
	exitOK            = 0
	exitFailure       = 1
	exitMissingSource = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code. Progress goes to stdout, usage to
// stderr.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}

	log := colorlog.New("srcconcat", colorlog.Options{Output: stdout, Level: cfg.Level()})
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		return exitFailure
	}

	aggCfg := cfg.Aggregate(log)

	if !cfg.Watch {
		if _, err = aggregate.Run(aggCfg); err != nil && !errors.Is(err, aggregate.ErrSourceNotFound) {
			log.Error("Aggregation failed", "error", err)
		}
		return exitCode(err)
	}

	err = grace.Orchestrate(grace.OrchestrateOptions{
		Logger: log,
		Run: func(ctx context.Context) error {
			return watch.Run(ctx, aggCfg, watch.Options{})
		},
	})
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, aggregate.ErrSourceNotFound):
		return exitMissingSource
	default:
		return exitFailure
	}
}
