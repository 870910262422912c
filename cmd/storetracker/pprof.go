package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tmat/storetracker/pkg/pprof"
)

func PPROFCommand(args []string) error {
	fs := flag.NewFlagSet("pprof", flag.ExitOnError)
	var (
		metaF   = fs.String("meta", "", "metadata file emitted by instrument")
		paramsF = fs.Bool("params", false, "include parameter stores in the profile")
	)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("expected 2 arguments, got %d", fs.NArg())
	}

	data, meta, err := loadCapture(fs.Arg(0), *metaF)
	if err != nil {
		return err
	}

	// Open the output file
	outFile, err := os.Create(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer outFile.Close()

	// Convert the capture to pprof
	return pprof.Convert(data, meta, outFile, pprof.Options{Parameters: *paramsF})
}
