package patch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Report is the result of a patch operation, successful or not, sufficient
// to render both the text and JSON surfaces spec.md §6.3 describes.
type Report struct {
	Success    bool               `json:"success"`
	Operations []OperationSummary `json:"operations"`
}

func newReport(summaries []OperationSummary, success bool) *Report {
	return &Report{Success: success, Operations: summaries}
}

// Text renders the report the way the CLI prints it to stdout: one line per
// touched path, prefixed with the single-letter verb the original dialect
// uses (A/D/M/U), followed by a trailing summary line.
func (r *Report) Text() string {
	var b strings.Builder
	for _, op := range r.Operations {
		verb := "U"
		switch op.Kind {
		case ChangeAdd:
			verb = "A"
		case ChangeDelete:
			verb = "D"
		case ChangeMove:
			verb = "M"
		}
		path := op.Path
		if op.Kind == ChangeMove {
			path = fmt.Sprintf("%s -> %s", op.Path, op.DestPath)
		}
		fmt.Fprintf(&b, "%s %s", verb, path)
		if op.AddLines > 0 || op.DelLines > 0 {
			fmt.Fprintf(&b, " (+%d -%d)", op.AddLines, op.DelLines)
		}
		b.WriteByte('\n')
	}
	status := "Success"
	if !r.Success {
		status = "Failed"
	}
	fmt.Fprintf(&b, "%s. %d file(s) changed.\n", status, len(r.Operations))
	return b.String()
}

// JSON renders the report as the machine-readable surface.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
