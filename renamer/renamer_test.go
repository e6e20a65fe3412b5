package renamer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/docforge/pdfnamer/cache"
	"github.com/docforge/pdfnamer/ocr"
)

// writePDF synthesizes a one-page file whose content stream shows the given
// lines of text.
func writePDF(t *testing.T, path string, lines ...string) {
	t.Helper()
	var content bytes.Buffer
	content.WriteString("BT")
	for _, line := range lines {
		fmt.Fprintf(&content, " (%s) Tj T*", line)
	}
	content.WriteString(" ET")

	var buf bytes.Buffer
	offsets := make([]int64, 6)
	buf.WriteString("%PDF-1.4\n")
	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = int64(buf.Len())
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>\nendobj\n")
	offsets[4] = int64(buf.Len())
	fmt.Fprintf(&buf, "4 0 obj\n<< /Length %d >>\nstream\n", content.Len())
	buf.Write(content.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	xrefOff := int64(buf.Len())
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeImagePDF synthesizes a file whose only content is an image XObject,
// like a scan.
func writeImagePDF(t *testing.T, path string) {
	t.Helper()
	pixels := bytes.Repeat([]byte{0xEE}, 64*64)
	var buf bytes.Buffer
	offsets := make([]int64, 7)
	buf.WriteString("%PDF-1.4\n")
	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = int64(buf.Len())
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /Contents 4 0 R /Resources << /XObject << /Im1 5 0 R >> >> >>\nendobj\n")
	offsets[4] = int64(buf.Len())
	buf.WriteString("4 0 obj\n<< /Length 11 >>\nstream\nq /Im1 Do Q\nendstream\nendobj\n")
	offsets[5] = int64(buf.Len())
	fmt.Fprintf(&buf, "5 0 obj\n<< /Subtype /Image /Width 64 /Height 64 /BitsPerComponent 8 /ColorSpace /DeviceGray /Length %d >>\nstream\n", len(pixels))
	buf.Write(pixels)
	buf.WriteString("\nendstream\nendobj\n")
	xrefOff := int64(buf.Len())
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

type fakeEngine struct{ text string }

func (f *fakeEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	return ocr.Result{Text: f.text}, nil
}

func (f *fakeEngine) Close() error { return nil }

func TestScanPlansNames(t *testing.T) {
	dir := t.TempDir()
	writePDF(t, filepath.Join(dir, "scan001.pdf"),
		"TNB Berhad", "Electricity bill for March 2024")
	writePDF(t, filepath.Join(dir, "other.PDF"),
		"MEGACORP INDUSTRIES", "Delivery order 7781")
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	r := New(Options{})
	plan, err := r.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(plan.Entries) != 2 {
		t.Fatalf("entries = %d", len(plan.Entries))
	}
	byName := map[string]Entry{}
	for _, e := range plan.Entries {
		byName[filepath.Base(e.Path)] = e
	}
	e := byName["scan001.pdf"]
	if e.Company != "TNB" || e.Source != SourceTextLayer {
		t.Fatalf("entry = %+v", e)
	}
	if e.ProposedName != "TNB_TNB BERHAD.pdf" {
		t.Fatalf("proposed = %q", e.ProposedName)
	}
	if byName["other.PDF"].Company != "MEGACORP" {
		t.Fatalf("entry = %+v", byName["other.PDF"])
	}
}

func TestApplyRenamesFiles(t *testing.T) {
	dir := t.TempDir()
	writePDF(t, filepath.Join(dir, "in.pdf"), "MAXIS Berhad", "Mobile statement")

	r := New(Options{})
	plan, err := r.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	sum := r.Apply(context.Background(), plan, ApplyOptions{})
	if sum.Renamed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	target := plan.Entries[0].ProposedName
	if _, err := os.Stat(filepath.Join(dir, target)); err != nil {
		t.Fatalf("renamed file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "in.pdf")); !os.IsNotExist(err) {
		t.Fatal("source file should be gone")
	}
	if plan.Entries[0].Status != StatusRenamed {
		t.Fatalf("status = %q", plan.Entries[0].Status)
	}
}

func TestApplySkipsExistingTarget(t *testing.T) {
	dir := t.TempDir()
	writePDF(t, filepath.Join(dir, "a.pdf"), "TNB Berhad", "Monthly bill enclosed")
	writePDF(t, filepath.Join(dir, "b.pdf"), "TNB Berhad", "Monthly bill enclosed")

	r := New(Options{})
	plan, _ := r.Scan(context.Background(), dir)
	sum := r.Apply(context.Background(), plan, ApplyOptions{})
	if sum.Renamed != 1 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	// With the suffix option the colliding files get numbered names.
	writePDF(t, filepath.Join(dir, "c.pdf"), "TNB Berhad", "Monthly bill enclosed")
	plan2, _ := r.Scan(context.Background(), dir)
	sum2 := r.Apply(context.Background(), plan2, ApplyOptions{NumericSuffix: true})
	if sum2.Renamed != 2 || sum2.Unchanged != 1 {
		t.Fatalf("summary = %+v", sum2)
	}
	for _, suffix := range []string{"_2", "_3"} {
		matches, _ := filepath.Glob(filepath.Join(dir, "TNB_*"+suffix+".pdf"))
		if len(matches) != 1 {
			t.Fatalf("numbered target %s not created: %v", suffix, matches)
		}
	}
}

func TestApplyLeavesCorrectlyNamedFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(Options{})
	tmp := filepath.Join(dir, "seed.pdf")
	writePDF(t, tmp, "TNB Berhad", "Quarterly summary here")
	entry := r.PlanFile(context.Background(), tmp)
	os.Rename(tmp, filepath.Join(dir, entry.ProposedName))

	plan, _ := r.Scan(context.Background(), dir)
	if plan.Entries[0].Status != StatusUnchanged {
		t.Fatalf("status = %q", plan.Entries[0].Status)
	}
	sum := r.Apply(context.Background(), plan, ApplyOptions{})
	if sum.Unchanged != 1 || sum.Renamed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestOCRFallbackForScannedFile(t *testing.T) {
	dir := t.TempDir()
	writeImagePDF(t, filepath.Join(dir, "scan.pdf"))

	r := New(Options{Engine: &fakeEngine{text: "AQP WATER SUPPLY\nInvoice for January"}})
	entry := r.PlanFile(context.Background(), filepath.Join(dir, "scan.pdf"))
	if entry.Source != SourceOCR {
		t.Fatalf("source = %q (%+v)", entry.Source, entry)
	}
	if entry.Company != "AQP" {
		t.Fatalf("company = %q", entry.Company)
	}
}

func TestCacheShortCircuitsExtraction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	writePDF(t, path, "MAXIS Berhad", "Fibre subscription invoice")
	store, err := cache.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	r := New(Options{Cache: store})
	first := r.PlanFile(context.Background(), path)
	if first.Source != SourceTextLayer {
		t.Fatalf("first source = %q", first.Source)
	}
	second := r.PlanFile(context.Background(), path)
	if second.Source != SourceCache {
		t.Fatalf("second source = %q", second.Source)
	}
	if second.Company != first.Company || second.Description != first.Description {
		t.Fatalf("cache changed the outcome: %+v vs %+v", second, first)
	}
}

func TestUnreadableFileFails(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("not a document"), 0o644)

	r := New(Options{})
	plan, _ := r.Scan(context.Background(), dir)
	if plan.Entries[0].Status != StatusFailed {
		t.Fatalf("entry = %+v", plan.Entries[0])
	}
	sum := r.Apply(context.Background(), plan, ApplyOptions{})
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}
