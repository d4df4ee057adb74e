package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ccsml/internal/app"
	"ccsml/internal/config"
	"ccsml/internal/infrastructure"
	"ccsml/internal/ingest"
	"ccsml/internal/services"
)

const usage = `usage: ccs [-config path] <command> [flags]

commands:
  ingest   -mode training|prediction   validate and merge uploaded files
  train    [-from-db]                  train and commit a new artifact generation
  predict                              score the validated prediction file
  serve                                run the HTTP API
  version                              print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogFile()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("ccs", flag.ContinueOnError)
	configPath := global.String("config", "", "path to the YAML configuration file")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	command, rest := global.Arg(0), global.Args()[1:]
	if command == "version" {
		fmt.Fprintln(stdout, app.Version)
		return nil
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	var (
		mode   *string
		fromDB *bool
	)
	switch command {
	case "ingest":
		mode = fs.String("mode", string(ingest.ModeTraining), "training or prediction")
	case "train":
		fromDB = fs.Bool("from-db", false, "train on the rows stored in the datastore")
	case "predict", "serve":
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	application, err := app.New(ctx, cfg, app.Options{Progress: command == "serve"})
	if err != nil {
		return err
	}
	defer application.Close(context.Background())

	switch command {
	case "ingest":
		m, err := ingest.ParseMode(*mode)
		if err != nil {
			return err
		}
		report, err := application.Pipeline.Ingest(ctx, m)
		if report != nil {
			if werr := writeJSON(stdout, report); werr != nil {
				return werr
			}
		}
		return err
	case "train":
		result, err := application.Pipeline.Train(ctx, services.TrainRequest{FromDB: *fromDB})
		if err != nil {
			return err
		}
		return writeJSON(stdout, result)
	case "predict":
		resp, err := application.Pipeline.Predict(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, resp)
	default:
		return application.Serve(ctx)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
