package main

import (
	"fmt"
	"os"

	"github.com/tmat/storetracker/pkg/encoding"
)

// loadCapture reads a capture file and the metadata emitted alongside the
// instrumented sources. The metadata path may be empty, in which case only
// records that decode without metadata are usable.
func loadCapture(capturePath, metaPath string) ([]byte, encoding.Metadata, error) {
	data, err := os.ReadFile(capturePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read capture file: %w", err)
	}

	var meta encoding.Metadata
	if metaPath != "" {
		file, err := os.Open(metaPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open metadata file: %w", err)
		}
		defer file.Close()
		if meta, err = encoding.ReadMetadata(file); err != nil {
			return nil, nil, err
		}
	}
	return data, meta, nil
}
