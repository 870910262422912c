package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"runtime/trace"

	"github.com/peterbourgon/ff/v3"
)

// main is the entry point for the storetracker command line tool.
func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// realMain is a helper function for main that returns an error.
func realMain() error {
	fs := flag.NewFlagSet("storetracker", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: storetracker <command> [flags] <args>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  - instrument: Rewrites a package to track local and parameter stores.\n")
		fmt.Fprintf(os.Stderr, "  - dump: Prints the records of a capture file.\n")
		fmt.Fprintf(os.Stderr, "  - breakdown: Breaks a capture file down by record kind or method.\n")
		fmt.Fprintf(os.Stderr, "  - pprof: Converts a capture file to a pprof profile.\n")
		fmt.Fprintf(os.Stderr, "  - anonymize: Obfuscates a capture file and its metadata.\n")
		fmt.Fprintf(os.Stderr, "  - verify: Checks a capture file for internal consistency.\n")
	}

	var (
		cpuProfileF = fs.String("cpuprofile", "", "write cpu profile to file")
		traceF      = fs.String("trace", "", "write trace to file")
	)

	// Parse the command line arguments, also honoring STORETRACKER_*
	// environment variables.
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("STORETRACKER")); err != nil {
		return err
	}

	if *cpuProfileF != "" {
		file, err := os.Create(*cpuProfileF)
		if err != nil {
			return err
		}
		defer file.Close()

		if err := pprof.StartCPUProfile(file); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	if *traceF != "" {
		file, err := os.Create(*traceF)
		if err != nil {
			return err
		}
		defer file.Close()

		if err := trace.Start(file); err != nil {
			return err
		}
		defer trace.Stop()
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("no command given")
	}

	switch cmd := args[0]; cmd {
	case "instrument":
		return InstrumentCommand(args[1:])
	case "dump":
		return DumpCommand(args[1:])
	case "breakdown":
		return BreakdownCommand(args[1:])
	case "pprof":
		return PPROFCommand(args[1:])
	case "anon", "anonymize":
		return AnonymizeCommand(args[1:])
	case "verify":
		return VerifyCommand(args[1:])
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// parseFlags parses a subcommand flag set in the same way as the root one.
func parseFlags(fs *flag.FlagSet, args []string) error {
	return ff.Parse(fs, args, ff.WithEnvVarPrefix("STORETRACKER"))
}
