package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/exp/maps"

	"github.com/tmat/storetracker/pkg/breakdown"
)

type BreakdownFlavor string

const (
	BreakdownCSV   BreakdownFlavor = "csv"
	BreakdownBytes BreakdownFlavor = "size"
	BreakdownCount BreakdownFlavor = "count"
)

func BreakdownCommand(args []string) error {
	fs := flag.NewFlagSet("breakdown", flag.ExitOnError)
	var (
		metaF   = fs.String("meta", "", "metadata file emitted by instrument")
		flavorF = fs.String("flavor", "count", "output flavor: count, size or csv")
		byF     = fs.String("by", "kind", "group records by kind or method")
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

	switch *byF {
	case "kind":
		bd, err := breakdown.ByKind(data, meta)
		if err != nil {
			return err
		}
		summaries := maps.Values(bd)
		rows := make([]breakdownRow, len(summaries))
		for i, s := range summaries {
			rows[i] = breakdownRow{Name: s.Kind.String(), Count: s.Count, Bytes: s.Bytes}
		}
		return renderBreakdown(BreakdownFlavor(*flavorF), "Record Kind", rows)

	case "method":
		bd, err := breakdown.ByMethod(data, meta)
		if err != nil {
			return err
		}
		summaries := maps.Values(bd)
		rows := make([]breakdownRow, len(summaries))
		for i, s := range summaries {
			name := s.Name
			if name == "" {
				name = fmt.Sprintf("method %d", s.MethodID)
			}
			rows[i] = breakdownRow{Name: name, Count: s.Records, Bytes: s.Bytes}
		}
		return renderBreakdown(BreakdownFlavor(*flavorF), "Method", rows)

	default:
		return fmt.Errorf("unknown grouping: %s", *byF)
	}
}

type breakdownRow struct {
	Name  string
	Count int64
	Bytes int64
}

func renderBreakdown(flavor BreakdownFlavor, label string, summaries []breakdownRow) error {
	totalBytes := int64(0)
	totalCount := int64(0)
	for _, s := range summaries {
		totalBytes += s.Bytes
		totalCount += s.Count
	}

	var header []string
	var rows [][]string
	var footer []string
	switch flavor {
	case BreakdownCSV:
		header = []string{label, "Count", "Bytes"}
		cw := csv.NewWriter(os.Stdout)
		cw.Write(header)
		for _, s := range summaries {
			cw.Write([]string{
				s.Name,
				fmt.Sprintf("%d", s.Count),
				fmt.Sprintf("%d", s.Bytes),
			})
		}
		cw.Flush()
		return cw.Error()
	case BreakdownCount:
		header = []string{label, "Count", "%"}
		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].Count > summaries[j].Count
		})
		for _, s := range summaries {
			rows = append(rows, []string{
				s.Name,
				fmt.Sprintf("%d", s.Count),
				fmt.Sprintf("%.2f%%", float64(s.Count)/float64(totalCount)*100),
			})
		}
		footer = []string{"Total", fmt.Sprintf("%d", totalCount), "100.00%"}
	case BreakdownBytes:
		header = []string{label, "Bytes", "%"}
		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].Bytes > summaries[j].Bytes
		})
		for _, s := range summaries {
			rows = append(rows, []string{
				s.Name,
				humanBytes(s.Bytes),
				fmt.Sprintf("%.2f%%", float64(s.Bytes)/float64(totalBytes)*100),
			})
		}
		footer = []string{"Total", humanBytes(totalBytes), "100.00%"}
	default:
		return fmt.Errorf("unknown flavor: %s", flavor)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.SetFooter(footer)
	table.Render()
	return nil
}

// humanBytes converts the given byte value to a human readable string.
func humanBytes(bytes int64) string {
	const unit = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "kMGTPE"[exp])
}
