package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/notebookd/internal/reconcile"
)

// runReport is the json form of a one-shot execution.
type runReport struct {
	Kernel  string             `json:"kernel"`
	Records []reconcile.Record `json:"records"`
	Summary reconcile.Summary  `json:"summary"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRecordText(w io.Writer, rec reconcile.Record) error {
	switch rec.Kind {
	case reconcile.KindStdout:
		_, err := io.WriteString(w, rec.Text)
		return err
	default:
		var parts []string
		if rec.HasImage {
			parts = append(parts, fmt.Sprintf("[image/png %d bytes]", imageSize(rec.Image)))
		}
		if rec.HasText {
			parts = append(parts, rec.Text)
		}
		_, err := fmt.Fprintln(w, strings.Join(parts, " "))
		return err
	}
}

func writeSummaryText(w io.Writer, kernelID string, s reconcile.Summary) error {
	run := "?"
	if s.RunKnown {
		run = fmt.Sprintf("%d", s.RunIndex)
	}
	_, err := fmt.Fprintf(w, "-- kernel=%s run=%s emitted=%d dropped=%d skipped=%d\n",
		kernelID, run, s.Emitted, s.Dropped, s.Skipped)
	return err
}

func imageSize(encoded string) int {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return len(encoded)
	}
	return len(raw)
}
