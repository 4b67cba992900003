package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/term"

	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/predictor"
)

type inputList []string

func (l *inputList) String() string { return strings.Join(*l, ",") }

func (l *inputList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

func main() {
	var (
		inputs      inputList
		configFile  = flag.String("config", "", "Path to config file (yaml, json or toml)")
		tag         = flag.String("tag", "", "Predictor tag, e.g. @owner/name")
		wasmFile    = flag.String("wasm", "", "Native runtime compiled to WebAssembly (optional)")
		accel       = flag.String("acceleration", "", "Acceleration: auto, cpu, gpu or npu")
		stream      = flag.Bool("stream", false, "Stream partial predictions")
		raw         = flag.Bool("raw", false, "Print raw tagged values")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Var(&inputs, "input", "Input as name=value (repeatable); @file reads bytes, JSON lists and dicts are parsed")
	flag.Parse()

	if *tag == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: fxn -tag <@owner/name> [-input name=value ...] [-stream] [-raw]")
		fmt.Fprintln(os.Stderr, "       fxn -i  (interactive mode)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := setup(ctx, options{
		configFile:   *configFile,
		wasmFile:     *wasmFile,
		acceleration: *accel,
		verbose:      *verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close(ctx)

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(ctx, app, *tag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	parsed, err := parseInputs(inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := run(ctx, app, *tag, parsed, *stream, *raw); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *app, tag string, inputs map[string]any, stream, raw bool) error {
	opts := app.createOptions()
	if raw {
		opts = append(opts, predictor.WithRawOutputs())
	}

	if stream {
		for p, err := range app.service.Stream(ctx, tag, inputs, opts...) {
			if err != nil {
				return err
			}
			if err := printPrediction(p); err != nil {
				return err
			}
		}
		return nil
	}

	p, err := app.service.Create(ctx, tag, inputs, opts...)
	if err != nil {
		return err
	}
	return printPrediction(p)
}

type printed struct {
	ID      string             `json:"id"`
	Tag     string             `json:"tag"`
	Type    api.PredictionType `json:"type"`
	Results []any              `json:"results"`
	Latency float64            `json:"latency"`
	Error   string             `json:"error,omitempty"`
	Logs    string             `json:"logs,omitempty"`
}

func printPrediction(p *predictor.Prediction) error {
	results := make([]any, len(p.Results))
	for i, r := range p.Results {
		results[i] = describe(r)
	}
	out, err := json.MarshalIndent(printed{
		ID:      p.ID,
		Tag:     p.Tag,
		Type:    p.Type,
		Results: results,
		Latency: p.Latency,
		Error:   p.Error,
		Logs:    p.Logs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
