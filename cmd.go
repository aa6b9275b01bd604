// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var handler = cmd.Multi(map[string]cmd.Handler{
	"version":   cmd.Version,
	"-version":  cmd.Version,
	"--version": cmd.Version,

	"region":         &regionCmd{},
	"single-variant": &singleVariantCmd{},
	"scores":         &scoresCmd{},
})

func init() {
	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(30)
	}
}

// Main is the CLI entrypoint, following the teacher's own
// cmd.Multi/isatty/logrus wiring in its original cmd.go.
func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	if len(os.Args) >= 2 && !strings.HasSuffix(os.Args[1], "version") {
		cmd.Version.RunCommand("ldengine", nil, nil, os.Stderr, os.Stderr)
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// commonFlags are the query parameters shared by all three subcommands.
type commonFlags struct {
	source        string
	chromosome    string
	start, stop   uint64
	subset        string
	subsetFile    string
	segmentWidth  uint64
	limit         int
	resume        string
	mask          string
	group         string
	stat          string
	includeDiag   bool
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.source, "source", "", "path to a tab-separated dosage matrix (text genotype source)")
	fs.StringVar(&f.chromosome, "chrom", "", "chromosome")
	fs.Uint64Var(&f.start, "start", 0, "region start (bp, inclusive)")
	fs.Uint64Var(&f.stop, "stop", 0, "region stop (bp, inclusive)")
	fs.StringVar(&f.subset, "subset", "ALL", "named sample subset")
	fs.StringVar(&f.subsetFile, "subset-file", "", "path to a newline-separated sample-id file defining -subset")
	fs.Uint64Var(&f.segmentWidth, "segment-width", 1000, "segment width in base pairs")
	fs.IntVar(&f.limit, "limit", 1000, "maximum entries per page")
	fs.StringVar(&f.resume, "resume", "", "resume token from a previous page")
	fs.StringVar(&f.mask, "mask", "", "path to a mask TSV restricting the query to one group's regions")
	fs.StringVar(&f.group, "group", "", "mask group name, required if -mask is set")
	fs.StringVar(&f.stat, "stat", "r", "statistic: r, rsquare, cov, or rsquare_approx")
	fs.BoolVar(&f.includeDiag, "include-diagonal", false, "emit a variant's correlation/covariance against itself")
}

func parseStatKind(name string) (StatKind, error) {
	switch name {
	case "r":
		return StatR, nil
	case "rsquare":
		return StatR2, nil
	case "cov":
		return StatCov, nil
	case "rsquare_approx":
		return StatR2Approx, nil
	default:
		return 0, newError(InvalidArgument, "unknown -stat value: "+name)
	}
}

// buildEngine wires an Engine from a single text genotype source
// registered against every chromosome it reports, applying the subset
// and mask flags. This is the CLI's own assembly code, not part of the
// library surface.
func buildEngine(f *commonFlags, stderr io.Writer) (*Engine, error) {
	if f.source == "" {
		return nil, newError(InvalidArgument, "-source is required")
	}
	fh, err := os.Open(f.source)
	if err != nil {
		return nil, wrapError(IOFailure, "opening -source", err)
	}
	defer fh.Close()
	src, err := NewTextSource(fh)
	if err != nil {
		return nil, err
	}

	e := NewEngine(f.segmentWidth)
	for _, chrom := range src.Chromosomes() {
		if err := e.SetGenotypeSource(chrom, src); err != nil {
			return nil, err
		}
	}

	if f.subsetFile != "" {
		raw, err := os.ReadFile(f.subsetFile)
		if err != nil {
			return nil, wrapError(IOFailure, "reading -subset-file", err)
		}
		var samples []string
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				samples = append(samples, line)
			}
		}
		if err := e.SetSampleSubset(f.subset, samples); err != nil {
			return nil, err
		}
	}

	if f.mask != "" {
		if f.group == "" {
			return nil, newError(InvalidArgument, "-group is required when -mask is set")
		}
		mfh, err := os.Open(f.mask)
		if err != nil {
			return nil, wrapError(IOFailure, "opening -mask", err)
		}
		defer mfh.Close()
		mk, err := LoadMaskTSV(mfh)
		if err != nil {
			return nil, err
		}
		if err := e.AdmitSegments(mk, f.group); err != nil {
			return nil, err
		}
	}

	return e, nil
}

type regionCmd struct{}

func (*regionCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	var f commonFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	kind, err := parseStatKind(f.stat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	e, err := buildEngine(&f, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	page, err := e.ComputeRegion(context.Background(), f.chromosome, f.start, f.stop, f.subset, kind, f.includeDiag, f.limit, f.resume)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return emitJSON(page, stdout, stderr)
}

type singleVariantCmd struct{}

func (*singleVariantCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	var f commonFlags
	f.register(fs)
	variant := fs.String("variant", "", "index variant id, chrom:pos_ref/alt")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	kind, err := parseStatKind(f.stat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	e, err := buildEngine(&f, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	page, err := e.ComputeSingleVariant(context.Background(), f.chromosome, *variant, f.start, f.stop, f.subset, kind, f.includeDiag, f.limit, f.resume)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return emitJSON(page, stdout, stderr)
}

type scoresCmd struct{}

func (*scoresCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	var f commonFlags
	f.register(fs)
	phenotypeFile := fs.String("phenotype", "", "path to a newline-separated phenotype file, aligned with -subset order")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, err := buildEngine(&f, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *phenotypeFile == "" {
		fmt.Fprintln(stderr, "-phenotype is required")
		return 1
	}
	raw, err := os.ReadFile(*phenotypeFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	var phenotype []float64
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		phenotype = append(phenotype, v)
	}
	page, err := e.ComputeScores(context.Background(), f.chromosome, f.start, f.stop, f.subset, phenotype, f.limit, f.resume)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return emitJSON(page, stdout, stderr)
}

func emitJSON(v interface{}, stdout, stderr io.Writer) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
