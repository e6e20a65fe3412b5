package report

import (
	"strings"
	"testing"

	"github.com/docforge/pdfnamer/renamer"
)

func samplePlan() *renamer.Plan {
	return &renamer.Plan{
		Dir: "/scans/inbox",
		Entries: []renamer.Entry{
			{
				Path: "/scans/inbox/a.pdf", ProposedName: "TNB_MONTHLY BILL.pdf",
				Company: "TNB", Source: renamer.SourceTextLayer, Status: renamer.StatusRenamed,
			},
			{
				Path: "/scans/inbox/b.pdf", ProposedName: "UNKNOWN_DOCUMENT.pdf",
				Company: "UNKNOWN", Source: renamer.SourceOCR,
				Status: renamer.StatusSkipped, Reason: "target exists",
			},
		},
	}
}

func TestMarkdownContainsEntries(t *testing.T) {
	sum := &renamer.Summary{Renamed: 1, Skipped: 1}
	got := Markdown(samplePlan(), sum)
	for _, want := range []string{
		"# Rename report", "/scans/inbox",
		"TNB_MONTHLY BILL.pdf", "target exists",
		"**1 renamed**, 0 unchanged, 1 skipped, 0 failed.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownEscapesPipes(t *testing.T) {
	plan := samplePlan()
	plan.Entries[0].Reason = "weird|value"
	got := Markdown(plan, nil)
	if !strings.Contains(got, `weird\|value`) {
		t.Fatal("pipe not escaped")
	}
}

func TestHTMLRendersTable(t *testing.T) {
	html, err := HTML(samplePlan(), nil)
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	s := string(html)
	if !strings.Contains(s, "<table>") || !strings.Contains(s, "<td>TNB</td>") {
		t.Fatalf("html = %s", s)
	}
}
