// Package report renders a scan plan as Markdown and HTML for the web UI
// and for saving next to the processed folder.
package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/docforge/pdfnamer/renamer"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown renders the plan as a Markdown document. A nil summary means the
// plan has not been applied yet.
func Markdown(plan *renamer.Plan, sum *renamer.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Rename report\n\n")
	fmt.Fprintf(&b, "Folder: `%s`  \n", plan.Dir)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().Format(time.RFC3339))

	if sum != nil {
		fmt.Fprintf(&b, "**%d renamed**, %d unchanged, %d skipped, %d failed.\n\n",
			sum.Renamed, sum.Unchanged, sum.Skipped, sum.Failed)
	}

	b.WriteString("| File | Proposed name | Company | Source | Status | Note |\n")
	b.WriteString("|------|---------------|---------|--------|--------|------|\n")
	for _, e := range plan.Entries {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			cell(filepath.Base(e.Path)), cell(e.ProposedName), cell(e.Company),
			string(e.Source), string(e.Status), cell(e.Reason))
	}
	return b.String()
}

// HTML converts the Markdown report to HTML.
func HTML(plan *renamer.Plan, sum *renamer.Summary) ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(plan, sum)), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cell escapes pipe characters so values cannot break the table.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
