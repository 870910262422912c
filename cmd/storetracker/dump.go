package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tmat/storetracker/pkg/encoding"
	"github.com/tmat/storetracker/pkg/print"
)

func DumpCommand(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	var (
		metaF   = fs.String("meta", "", "metadata file emitted by instrument")
		methodF = fs.Int64("method", -1, "only print records of this method id")
		kindsF  = fs.String("kinds", "", "comma separated list of record kind numbers")
		storesF = fs.Bool("stores", false, "only print store records")
	)
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

	filter := print.DefaultRecordFilter()
	filter.MethodID = *methodF
	filter.StoresOnly = *storesF
	if *kindsF != "" {
		for _, s := range strings.Split(*kindsF, ",") {
			k, err := strconv.ParseUint(s, 10, 8)
			if err != nil {
				return fmt.Errorf("bad kind %q: %w", s, err)
			}
			filter.Kinds = append(filter.Kinds, encoding.Kind(k))
		}
	}

	// Print all records to stdout
	stdout := bufio.NewWriter(os.Stdout)
	defer stdout.Flush()
	return print.Records(data, meta, stdout, filter)
}
