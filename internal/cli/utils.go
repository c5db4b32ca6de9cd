// Package cli provides output helpers for the bottlematch command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperjump/bottlematch/internal/indexer"
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat returns the OutputFormat named by s.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

const maxNameWidth = 48

// WriteMatches writes bottle matches to w, one per line in text format.
func WriteMatches(w io.Writer, matches []models.BottleMatch, format OutputFormat) error {
	if format == OutputJSON {
		if matches == nil {
			matches = []models.BottleMatch{}
		}
		return writeJSON(w, matches)
	}
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "No bottles found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tCONFIDENCE\tID\tNAME")
	for i, m := range matches {
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", i+1, m.Confidence, m.ID, utils.Truncate(m.Name, maxNameWidth))
	}
	return tw.Flush()
}

// WriteIdentify writes an identification result, including its processing time.
func WriteIdentify(w io.Writer, resp *models.IdentifyResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "Identified in %.1fms\n\n", resp.ProcessingTimeMs)
	return WriteMatches(w, resp.Matches, format)
}

// WriteReport writes the outcome of a directory ingest.
func WriteReport(w io.Writer, report *indexer.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Indexed %d bottles, %d failed\n", len(report.Indexed), len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Error)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
