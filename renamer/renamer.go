// Package renamer is the core pipeline: walk a folder of PDF files, pull
// text out of the first pages (recognizing scanned pages when the text layer
// is missing), classify each document, and rename the files to
// COMPANY_DESCRIPTION.pdf.
package renamer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docforge/pdfnamer/cache"
	"github.com/docforge/pdfnamer/classify"
	"github.com/docforge/pdfnamer/extractor"
	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/observability"
	"github.com/docforge/pdfnamer/ocr"
	"github.com/docforge/pdfnamer/parser"
)

// TextSource records where a file's text came from.
type TextSource string

const (
	SourceTextLayer TextSource = "text"
	SourceOCR       TextSource = "ocr"
	SourceCache     TextSource = "cache"
	SourceNone      TextSource = "none"
)

// Status is the lifecycle state of one plan entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRenamed   Status = "renamed"
	StatusUnchanged Status = "unchanged"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Entry is the plan for one file.
type Entry struct {
	Path         string
	ProposedName string
	Company      string
	Description  string
	Source       TextSource
	ClassifiedBy string
	Status       Status
	Reason       string
}

// Plan is the outcome of scanning one folder.
type Plan struct {
	Dir     string
	Entries []Entry
}

// Options wire the pipeline's collaborators.
type Options struct {
	Parser     *parser.Parser
	Classifier *classify.Classifier
	// Engine enables the OCR fallback; nil disables it.
	Engine ocr.Engine
	// Cache skips extraction for files seen before; nil disables it.
	Cache  *cache.Store
	Logger observability.Logger
	// MaxPages bounds how many pages are read per file.
	MaxPages int
	OCR      ocr.Options
}

// Renamer runs the pipeline. Safe to reuse across folders.
type Renamer struct {
	opts Options
}

// New builds a renamer, filling defaults for anything unset.
func New(opts Options) *Renamer {
	if opts.Parser == nil {
		opts.Parser = parser.New(parser.Config{})
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewClassifier(classify.DefaultRules())
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = 2
	}
	return &Renamer{opts: opts}
}

// Scan plans renames for every PDF directly inside dir.
func (r *Renamer) Scan(ctx context.Context, dir string) (*Plan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(de.Name()), ".pdf") {
			paths = append(paths, filepath.Join(dir, de.Name()))
		}
	}
	sort.Strings(paths)

	plan := &Plan{Dir: dir}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plan.Entries = append(plan.Entries, r.PlanFile(ctx, path))
	}
	return plan, nil
}

// PlanFile builds the plan entry for a single file.
func (r *Renamer) PlanFile(ctx context.Context, path string) Entry {
	entry := Entry{Path: path, Status: StatusPending}

	text, source, err := r.ExtractText(ctx, path)
	entry.Source = source
	if err != nil {
		entry.Status = StatusFailed
		entry.Reason = err.Error()
		r.opts.Logger.Warn("cannot extract text",
			observability.String("file", filepath.Base(path)), observability.Error(err))
		return entry
	}

	res := r.opts.Classifier.Classify(ctx, text)
	entry.Company = res.Company
	entry.Description = res.Description
	entry.ClassifiedBy = res.Source
	entry.ProposedName = fmt.Sprintf("%s_%s.pdf", res.Company, res.Description)

	if entry.ProposedName == filepath.Base(path) {
		entry.Status = StatusUnchanged
	}
	return entry
}

// ExtractText returns the usable text of a file, consulting the cache and
// falling back to recognition when the text layer is too thin.
func (r *Renamer) ExtractText(ctx context.Context, path string) (string, TextSource, error) {
	var key string
	if r.opts.Cache != nil {
		k, err := cache.FileKey(path)
		if err == nil {
			key = k
			if text, found, err := r.opts.Cache.GetText(key); err == nil && found {
				return text, SourceCache, nil
			}
		}
	}

	doc, err := r.opts.Parser.ParseFile(ctx, path)
	if err != nil {
		if errors.Is(err, parser.ErrEncrypted) {
			return "", SourceNone, fmt.Errorf("requires a password: %w", err)
		}
		return "", SourceNone, err
	}
	text, source, err := r.extractFromDoc(ctx, doc)
	if err != nil {
		return "", source, err
	}
	if key != "" && text != "" {
		if err := r.opts.Cache.PutText(key, text); err != nil {
			r.opts.Logger.Warn("cache write failed", observability.Error(err))
		}
	}
	return text, source, nil
}

func (r *Renamer) extractFromDoc(ctx context.Context, doc *object.Document) (string, TextSource, error) {
	ext, err := extractor.New(doc, extractor.Config{
		Pipeline: r.opts.Parser.Pipeline(),
		Logger:   r.opts.Logger,
	})
	if err != nil {
		return "", SourceNone, err
	}
	text, err := ext.Text(ctx, r.opts.MaxPages)
	if err != nil {
		return "", SourceNone, err
	}

	rules := r.opts.Classifier.Rules()
	if !rules.NeedsOCR(text) || r.opts.Engine == nil {
		return text, SourceTextLayer, nil
	}

	assets, err := ext.Images(ctx, r.opts.MaxPages)
	if err != nil || len(assets) == 0 {
		return text, SourceTextLayer, nil
	}
	ocrOpts := r.opts.OCR
	if ocrOpts.Logger == nil {
		ocrOpts.Logger = r.opts.Logger
	}
	recognized, err := ocr.RecognizeAssets(ctx, r.opts.Engine, assets, ocrOpts)
	if err != nil {
		if !errors.Is(err, ocr.ErrNoImages) {
			r.opts.Logger.Warn("recognition failed", observability.Error(err))
		}
		return text, SourceTextLayer, nil
	}
	if len(strings.TrimSpace(recognized)) > len(strings.TrimSpace(text)) {
		return recognized, SourceOCR, nil
	}
	return text, SourceTextLayer, nil
}

// ApplyOptions tune Apply.
type ApplyOptions struct {
	// NumericSuffix resolves target collisions with _2, _3… instead of
	// skipping.
	NumericSuffix bool
	// DryRun plans status transitions without touching the filesystem.
	DryRun bool
}

// Summary counts what Apply did.
type Summary struct {
	Renamed   int
	Unchanged int
	Skipped   int
	Failed    int
}

// Apply executes the plan in place, updating each entry's status.
func (r *Renamer) Apply(ctx context.Context, plan *Plan, opts ApplyOptions) Summary {
	var sum Summary
	for i := range plan.Entries {
		if ctx.Err() != nil {
			break
		}
		entry := &plan.Entries[i]
		switch entry.Status {
		case StatusFailed:
			sum.Failed++
			continue
		case StatusUnchanged:
			sum.Unchanged++
			continue
		}

		target := filepath.Join(plan.Dir, entry.ProposedName)
		if _, err := os.Stat(target); err == nil {
			if !opts.NumericSuffix {
				entry.Status = StatusSkipped
				entry.Reason = "target exists"
				sum.Skipped++
				r.opts.Logger.Info("skipping, target exists",
					observability.String("target", entry.ProposedName))
				continue
			}
			next, ok := numberedTarget(plan.Dir, entry.ProposedName)
			if !ok {
				entry.Status = StatusSkipped
				entry.Reason = "no free numbered name"
				sum.Skipped++
				continue
			}
			target = next
			entry.ProposedName = filepath.Base(next)
		}

		if opts.DryRun {
			continue
		}
		if err := os.Rename(entry.Path, target); err != nil {
			entry.Status = StatusFailed
			entry.Reason = err.Error()
			sum.Failed++
			r.opts.Logger.Error("rename failed",
				observability.String("file", filepath.Base(entry.Path)), observability.Error(err))
			continue
		}
		r.opts.Logger.Info("renamed",
			observability.String("from", filepath.Base(entry.Path)),
			observability.String("to", entry.ProposedName))
		entry.Path = target
		entry.Status = StatusRenamed
		sum.Renamed++
	}
	return sum
}

// numberedTarget finds the first free NAME_n.pdf variant.
func numberedTarget(dir, name string) (string, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	for n := 2; n < 1000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d.pdf", base, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, true
		}
	}
	return "", false
}
