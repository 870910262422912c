package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tmat/storetracker/pkg/anonymize"
)

func AnonymizeCommand(args []string) error {
	fs := flag.NewFlagSet("anonymize", flag.ExitOnError)
	var (
		metaF    = fs.String("meta", "", "metadata file emitted by instrument")
		metaOutF = fs.String("metaout", "", "write obfuscated metadata to this file")
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

	// Obfuscate the capture in memory and write it out
	if err := anonymize.AnonymizeCapture(data, meta); err != nil {
		return err
	}
	if err := os.WriteFile(fs.Arg(1), data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	// Obfuscate the metadata as well, unless no output was requested
	if *metaOutF == "" {
		return nil
	}
	outFile, err := os.Create(*metaOutF)
	if err != nil {
		return fmt.Errorf("failed to open metadata output file: %w", err)
	}
	defer outFile.Close()
	return anonymize.AnonymizeMetadata(meta).Write(outFile)
}
