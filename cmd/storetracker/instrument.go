package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tmat/storetracker/pkg/selector"
)

func InstrumentCommand(args []string) error {
	fs := flag.NewFlagSet("instrument", flag.ExitOnError)
	var (
		dirF     = fs.String("dir", ".", "directory to resolve the package pattern in")
		metaOutF = fs.String("metaout", "storetracker.json", "write method metadata to this file")
		importF  = fs.String("tracker", selector.DefaultTrackerImport, "import path of the tracker package")
		firstF   = fs.Uint("firstid", 1, "method id assigned to the first instrumented function")
		dryRunF  = fs.Bool("dryrun", false, "print rewritten sources instead of writing them back")
	)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected 1 argument, got %d", fs.NArg())
	}

	res, err := selector.InstrumentPackages(*dirF, fs.Arg(0), selector.Options{
		TrackerImport: *importF,
		FirstMethodID: uint32(*firstF),
	})
	if err != nil {
		return err
	}

	for name, src := range res.Files {
		if *dryRunF {
			fmt.Printf("---- %s ----\n%s", name, src)
			continue
		}
		if err := os.WriteFile(name, src, 0o644); err != nil {
			return fmt.Errorf("failed to rewrite %s: %w", name, err)
		}
	}

	metaFile, err := os.Create(*metaOutF)
	if err != nil {
		return fmt.Errorf("failed to open metadata output file: %w", err)
	}
	defer metaFile.Close()
	if err := res.Metadata.Write(metaFile); err != nil {
		return err
	}

	if res.Skipped > 0 {
		fmt.Fprintf(os.Stderr, "skipped %d functions without a usable entry overload\n", res.Skipped)
	}
	return nil
}
