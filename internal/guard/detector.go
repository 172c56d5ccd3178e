package guard

import (
	"net/url"
	"sort"
	"strings"
)

// ScanResult is the detector's verdict for one payload.
type ScanResult struct {
	Flagged  bool
	Rule     string
	Category string
	Field    string
}

// Detector scans structured request data against attack signatures. It holds
// no mutable state and is safe for concurrent use.
type Detector struct {
	passes [][]Signature
	skip   map[string]struct{}
}

// DetectorConfig configures NewDetector. Nil rule sets fall back to the
// built-in signatures. SkipKeys names fields (case-insensitive) whose values
// are not scanned; by default every string leaf is scanned.
type DetectorConfig struct {
	SQL      []Signature
	XSS      []Signature
	SkipKeys []string
}

// NewDetector builds a detector. SQL rules are checked across the whole
// payload before XSS rules.
func NewDetector(cfg DetectorConfig) *Detector {
	sql := cfg.SQL
	if sql == nil {
		sql = DefaultSQLSignatures()
	}
	xss := cfg.XSS
	if xss == nil {
		xss = DefaultXSSSignatures()
	}
	skip := make(map[string]struct{}, len(cfg.SkipKeys))
	for _, k := range cfg.SkipKeys {
		skip[strings.ToLower(k)] = struct{}{}
	}
	return &Detector{passes: [][]Signature{sql, xss}, skip: skip}
}

// Scan walks data and reports the first matching signature. Strings, maps,
// slices and url.Values are traversed; every other leaf passes.
func (d *Detector) Scan(data any) ScanResult {
	for _, rules := range d.passes {
		if res, ok := d.walk(data, "", rules); ok {
			return res
		}
	}
	return ScanResult{}
}

// ScanAll scans several payloads (for example query then body) in order.
func (d *Detector) ScanAll(payloads ...any) ScanResult {
	for _, p := range payloads {
		if res := d.Scan(p); res.Flagged {
			return res
		}
	}
	return ScanResult{}
}

func (d *Detector) walk(v any, field string, rules []Signature) (ScanResult, bool) {
	switch t := v.(type) {
	case string:
		return match(t, field, rules)
	case []any:
		for _, item := range t {
			if res, ok := d.walk(item, field, rules); ok {
				return res, true
			}
		}
	case []string:
		for _, item := range t {
			if res, ok := match(item, field, rules); ok {
				return res, true
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(t) {
			if d.skipped(k) {
				continue
			}
			if res, ok := d.walk(t[k], k, rules); ok {
				return res, true
			}
		}
	case map[string]string:
		for _, k := range sortedKeys(t) {
			if d.skipped(k) {
				continue
			}
			if res, ok := match(t[k], k, rules); ok {
				return res, true
			}
		}
	case url.Values:
		return d.walk(map[string][]string(t), field, rules)
	case map[string][]string:
		for _, k := range sortedKeys(t) {
			if d.skipped(k) {
				continue
			}
			if res, ok := d.walk(t[k], k, rules); ok {
				return res, true
			}
		}
	}
	return ScanResult{}, false
}

func (d *Detector) skipped(key string) bool {
	_, ok := d.skip[strings.ToLower(key)]
	return ok
}

func match(s, field string, rules []Signature) (ScanResult, bool) {
	if s == "" {
		return ScanResult{}, false
	}
	for _, r := range rules {
		if r.Pattern.MatchString(s) {
			return ScanResult{Flagged: true, Rule: r.Name, Category: r.Category, Field: field}, true
		}
	}
	return ScanResult{}, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
