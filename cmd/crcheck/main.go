// Command crcheck runs the convolution/pooling differential suite against a
// kernel backend and exits non-zero if any case fails.
//
//	go run ./cmd/crcheck -backend emulated -case conv-forward,pool3-backward
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/FlavioCFOliveira/crcheck/internal/compare"
	"github.com/FlavioCFOliveira/crcheck/internal/device"
	"github.com/FlavioCFOliveira/crcheck/internal/harness"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
	"github.com/FlavioCFOliveira/crcheck/internal/report"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	backend  string
	cases    string
	seed     uint64
	tol      compare.Tolerance
	timeout  time.Duration
	verbose  bool
	jsonPath string
	csvPath  string
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "crcheck: ", 0)

	fs := flag.NewFlagSet("crcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)

	def := params.Default()
	var opts options
	fs.StringVar(&opts.backend, "backend", "auto", "kernel backend: emulated, webgpu or auto")
	fs.StringVar(&opts.cases, "case", "", "comma-separated case names (default all)")
	images := fs.Int("images", def.NumImages, "images per batch")
	inCh := fs.Int("inchannels", def.InChannels, "input channels per group")
	outCh := fs.Int("outchannels", def.OutChannels, "output channels per group")
	groups := fs.Int("groups", def.NumGroups, "channel groups")
	dim := fs.Int("dim", def.YDim, "spatial height and width")
	ksize := fs.Int("ksize", def.KSize, "convolution window")
	stride := fs.Int("stride", def.Stride, "convolution stride")
	pad := fs.Int("pad", def.Pad, "convolution zero padding")
	relu := fs.Bool("relu", false, "rectify forward convolution output")
	fs.Uint64Var(&opts.seed, "seed", 0, "added to every case seed")
	fs.Float64Var(&opts.tol.Abs, "abs", compare.Default.Abs, "absolute tolerance")
	fs.Float64Var(&opts.tol.Rel, "rel", compare.Default.Rel, "relative tolerance")
	fs.DurationVar(&opts.timeout, "timeout", harness.DefaultTimeout, "device wait bound per case")
	fs.BoolVar(&opts.verbose, "verbose", false, "print every compared element")
	fs.StringVar(&opts.jsonPath, "json", "", "write a JSON summary to this file")
	fs.StringVar(&opts.csvPath, "csv", "", "write mismatching elements to this CSV file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Each case validates its own variant; a base that only suits pooling
	// is fine when no convolution case is selected.
	base := params.From(def).
		Images(*images).
		Channels(*inCh, *outCh).
		Groups(*groups).
		Dims(*dim, *dim).
		Kernel(*ksize, *stride, *pad).
		Relu(*relu).
		Descriptor()

	cases, err := selectCases(harness.DefaultCases(base), opts.cases)
	if err != nil {
		logger.Print(err)
		return 2
	}
	tol := opts.tol
	for i := range cases {
		if err := cases[i].Params.Validate(); err != nil {
			logger.Printf("%s: %v", cases[i].Name, err)
			return 2
		}
		cases[i].Seed += opts.seed
		cases[i].Tol = &tol
	}

	backend, err := device.Lookup(opts.backend)
	if err != nil {
		logger.Print(err)
		return 2
	}
	if !backend.Available() {
		logger.Printf("backend %s is not available", backend.Name())
		return 1
	}

	h := harness.New(backend,
		harness.WithLogger(log.New(stdout, "", 0)),
		harness.WithTimeout(opts.timeout),
		harness.WithVerbose(opts.verbose),
	)
	results, runErr := h.RunAll(context.Background(), cases)

	if err := export(results, opts); err != nil {
		logger.Print(err)
		return 1
	}

	failed := 0
	for _, r := range results {
		if !r.Passed() {
			failed++
			fmt.Fprintln(stdout, r.Err())
		}
	}
	fmt.Fprintf(stdout, "%d/%d cases passed on %s\n", len(results)-failed, len(cases), backend.Name())

	if runErr != nil {
		logger.Print(runErr)
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func selectCases(all []harness.Case, names string) ([]harness.Case, error) {
	if names == "" {
		return all, nil
	}
	byName := make(map[string]harness.Case, len(all))
	for _, c := range all {
		byName[c.Name] = c
	}
	var out []harness.Case
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown case %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}

func export(results []*harness.Result, opts options) error {
	var errs []error
	if opts.jsonPath != "" {
		f, err := os.Create(opts.jsonPath)
		if err != nil {
			return err
		}
		errs = append(errs, report.WriteJSON(f, results), f.Close())
	}
	if opts.csvPath != "" {
		w, err := report.CreateCSV(opts.csvPath)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		for _, r := range results {
			errs = append(errs, w.Write(r))
		}
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
