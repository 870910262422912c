package main

import (
	"flag"
	"fmt"

	"github.com/tmat/storetracker/pkg/verify"
)

func VerifyCommand(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	metaF := fs.String("meta", "", "metadata file emitted by instrument")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected 1 argument, got %d", fs.NArg())
	}

	data, meta, err := loadCapture(fs.Arg(0), *metaF)
	if err != nil {
		return err
	}

	report, err := verify.Check(data, meta)
	if err != nil {
		return err
	}

	fmt.Printf("%d records", report.Records)
	if report.Torn {
		fmt.Printf(", torn trailing record")
	}
	fmt.Println()
	for _, f := range report.Findings {
		fmt.Println(f)
	}
	if len(report.Findings) > 0 {
		return fmt.Errorf("%d findings", len(report.Findings))
	}
	return nil
}
