// Package classify turns extracted document text into a company label and a
// short description, the two halves of the generated filename.
package classify

import (
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docforge/pdfnamer/observability"
)

// Rules configure the naming heuristics. The zero value is unusable; start
// from DefaultRules and override from YAML.
type Rules struct {
	// Companies maps a keyword found in the text to the canonical label.
	Companies map[string]string `yaml:"companies"`
	// CompanyMaxLen caps the company half of the filename.
	CompanyMaxLen int `yaml:"company_max_len"`
	// DescriptionMaxLen caps the description half.
	DescriptionMaxLen int `yaml:"description_max_len"`
	// MinLineLen is the shortest line considered a usable description.
	MinLineLen int `yaml:"min_line_len"`
	// OCRThreshold is the character count under which a text layer counts
	// as absent and recognition kicks in.
	OCRThreshold int `yaml:"ocr_threshold"`

	UnknownCompany     string `yaml:"unknown_company"`
	DefaultDescription string `yaml:"default_description"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		Companies: map[string]string{
			"AQ PACK (M) SDN BHD":      "AQP",
			"AQ PACK (PENANG) SDN BHD": "AQPP",
			"TENAGA NASIONAL":          "TNB",
			"MAXIS":                    "MAXIS",
		},
		CompanyMaxLen:      20,
		DescriptionMaxLen:  60,
		MinLineLen:         8,
		OCRThreshold:       50,
		UnknownCompany:     "UNKNOWN",
		DefaultDescription: "DOCUMENT",
	}
}

// LoadRules overlays a YAML file on the defaults. Missing keys keep their
// default values; the companies map is replaced wholesale when present.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, err
	}
	var overlay Rules
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return rules, err
	}
	if overlay.Companies != nil {
		rules.Companies = make(map[string]string, len(overlay.Companies))
		for k, v := range overlay.Companies {
			rules.Companies[strings.ToUpper(k)] = Clean(v)
		}
	}
	if overlay.CompanyMaxLen > 0 {
		rules.CompanyMaxLen = overlay.CompanyMaxLen
	}
	if overlay.DescriptionMaxLen > 0 {
		rules.DescriptionMaxLen = overlay.DescriptionMaxLen
	}
	if overlay.MinLineLen > 0 {
		rules.MinLineLen = overlay.MinLineLen
	}
	if overlay.OCRThreshold > 0 {
		rules.OCRThreshold = overlay.OCRThreshold
	}
	if overlay.UnknownCompany != "" {
		rules.UnknownCompany = Clean(overlay.UnknownCompany)
	}
	if overlay.DefaultDescription != "" {
		rules.DefaultDescription = Clean(overlay.DefaultDescription)
	}
	return rules, nil
}

// NeedsOCR reports whether the extracted text layer is too thin to trust.
func (r Rules) NeedsOCR(text string) bool {
	return len(strings.TrimSpace(text)) < r.OCRThreshold
}

// Clean uppercases and strips filesystem-hostile characters, collapsing
// whitespace runs to single spaces.
func Clean(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Company picks the company label: known keyword first, then the first
// all-caps word of at least three letters, otherwise the unknown marker.
func (r Rules) Company(text string) string {
	upper := strings.ToUpper(text)
	// Longest keyword wins so AQPP is not shadowed by AQP.
	best := ""
	var bestLabel string
	for keyword, label := range r.Companies {
		if len(keyword) > len(best) && containsWord(upper, keyword) {
			best, bestLabel = keyword, label
		}
	}
	if bestLabel != "" {
		return truncate(Clean(bestLabel), r.CompanyMaxLen)
	}
	for _, word := range strings.Fields(text) {
		w := strings.Trim(word, ".,;:()[]'\"")
		if len(w) >= 3 && isAllCapsWord(w) {
			return truncate(Clean(w), r.CompanyMaxLen)
		}
	}
	return r.UnknownCompany
}

// containsWord finds needle in haystack on word boundaries.
func containsWord(haystack, needle string) bool {
	for start := 0; ; {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		abs := start + idx
		before := abs == 0 || !isWordByte(haystack[abs-1])
		afterIdx := abs + len(needle)
		after := afterIdx >= len(haystack) || !isWordByte(haystack[afterIdx])
		if before && after {
			return true
		}
		start = abs + 1
	}
}

func isWordByte(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

func isAllCapsWord(w string) bool {
	letters := 0
	for _, r := range w {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
		case r >= '0' && r <= '9', r == '-', r == '&':
		default:
			return false
		}
	}
	return letters >= 3
}

// Description takes the first substantial line, cleaned and truncated on a
// word boundary.
func (r Rules) Description(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= r.MinLineLen {
			continue
		}
		cleaned := Clean(line)
		if cleaned == "" {
			continue
		}
		return truncate(cleaned, r.DescriptionMaxLen)
	}
	return r.DefaultDescription
}

// truncate cuts at max, backing up to the previous space when possible.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

// Result is a classification outcome; Source records which stage produced it.
type Result struct {
	Company     string
	Description string
	Source      string
}

// Assist suggests labels for text the heuristics could not identify.
type Assist interface {
	Suggest(ctx context.Context, text string) (company, description string, err error)
}

// Classifier combines the rule heuristics with optional refinement stages.
type Classifier struct {
	rules  Rules
	script *ScriptHook
	assist Assist
	log    observability.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithScript installs a JavaScript refinement hook.
func WithScript(hook *ScriptHook) Option { return func(c *Classifier) { c.script = hook } }

// WithAssist installs a fallback suggester for unknown companies.
func WithAssist(a Assist) Option { return func(c *Classifier) { c.assist = a } }

// WithLogger sets the classifier's logger.
func WithLogger(log observability.Logger) Option { return func(c *Classifier) { c.log = log } }

// NewClassifier builds a classifier over the given rules.
func NewClassifier(rules Rules, opts ...Option) *Classifier {
	c := &Classifier{rules: rules, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rules exposes the active rule set.
func (c *Classifier) Rules() Rules { return c.rules }

// Classify derives the filename halves from extracted text.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	res := Result{
		Company:     c.rules.Company(text),
		Description: c.rules.Description(text),
		Source:      "rules",
	}
	if res.Company == c.rules.UnknownCompany && c.assist != nil {
		company, description, err := c.assist.Suggest(ctx, text)
		if err != nil {
			c.log.Warn("assist suggestion failed", observability.Error(err))
		} else {
			if company = truncate(Clean(company), c.rules.CompanyMaxLen); company != "" {
				res.Company = company
				res.Source = "assist"
			}
			if description = truncate(Clean(description), c.rules.DescriptionMaxLen); description != "" && res.Description == c.rules.DefaultDescription {
				res.Description = description
			}
		}
	}
	if c.script != nil {
		refined, err := c.script.Refine(ctx, res, text)
		if err != nil {
			c.log.Warn("script hook failed", observability.Error(err))
		} else {
			if company := truncate(Clean(refined.Company), c.rules.CompanyMaxLen); company != "" {
				res.Company = company
			}
			if description := truncate(Clean(refined.Description), c.rules.DescriptionMaxLen); description != "" {
				res.Description = description
			}
			res.Source = "script"
		}
	}
	return res
}
