package vlm

import (
	"regexp"
	"strconv"
	"strings"
)

// Report is the deterministic extraction of a diagnose() Markdown reply
// (§4.5). Parsing never fails; missing sections fall back to defaults so a
// malformed reply still produces a usable, if generic, report.
type Report struct {
	Raw             string
	Summary         string
	Severity        string
	Diseases        []string
	Recommendations []string
	Confidence      float64
}

var (
	imageMarkdownPattern = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	imageTagPattern      = regexp.MustCompile(`(?i)<img[^>]*>`)
	dataURIPattern       = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
	blankRunsPattern     = regexp.MustCompile(`\n{3,}`)
	percentPattern       = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)
	headingPattern       = regexp.MustCompile(`(?m)^#{1,3}\s+(.+?)\s*$`)
)

var severityMap = map[string]string{
	"低": "low", "low": "low",
	"中": "medium", "medium": "medium", "moderate": "medium",
	"高": "high", "high": "high", "severe": "high",
}

// Sanitize strips embedded image references and collapses long blank runs
// from a raw provider reply (§4.5 Output hygiene), before either parsing
// or emission.
func Sanitize(text string) string {
	text = imageMarkdownPattern.ReplaceAllString(text, "")
	text = imageTagPattern.ReplaceAllString(text, "")
	text = dataURIPattern.ReplaceAllString(text, "")
	text = blankRunsPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ParseReport extracts the structured fields from a sanitized Markdown
// report. It is a best-effort reader of the fixed section template C5
// documents; a reply that doesn't follow the template still yields
// reasonable defaults rather than an error.
func ParseReport(text string) Report {
	clean := Sanitize(text)
	sections := splitSections(clean)

	report := Report{
		Raw:        clean,
		Severity:   "medium",
		Confidence: 0.75,
	}

	if body, ok := firstNonEmpty(sections, "summary"); ok {
		report.Summary = strings.TrimSpace(body)
	} else {
		report.Summary = firstParagraph(clean)
	}

	if body, ok := findSection(sections, "severity"); ok {
		report.Severity = extractSeverity(body)
	} else {
		report.Severity = extractSeverity(clean)
	}

	if body, ok := findSection(sections, "disease identification"); ok {
		report.Diseases = extractListItems(body)
	}

	if body, ok := findSection(sections, "immediate"); ok {
		report.Recommendations = extractListItems(body)
	}

	if m := percentPattern.FindStringSubmatch(clean); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			report.Confidence = clampFloat(v/100, 0, 1)
		}
	}

	return report
}

// splitSections breaks the report into heading/body pairs, in document
// order, with each heading lowercased (findSection and firstNonEmpty walk
// them in that order and return the first match).
type section struct {
	heading string
	body    string
}

func splitSections(text string) []section {
	matches := headingPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var out []section
	for i, m := range matches {
		headingStart, headingEnd := m[2], m[3]
		bodyStart := m[1]
		bodyEnd := len(text)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1][0]
		}
		out = append(out, section{
			heading: strings.ToLower(strings.TrimSpace(text[headingStart:headingEnd])),
			body:    strings.TrimSpace(text[bodyStart:bodyEnd]),
		})
	}
	return out
}

func findSection(sections []section, key string) (string, bool) {
	for _, s := range sections {
		if strings.Contains(s.heading, key) {
			return s.body, true
		}
	}
	return "", false
}

func firstNonEmpty(sections []section, key string) (string, bool) {
	return findSection(sections, key)
}

func firstParagraph(text string) string {
	parts := strings.SplitN(text, "\n\n", 2)
	return strings.TrimSpace(parts[0])
}

// extractSeverity returns the level of the severity token that occurs
// first in text; English tokens match whole words only, so "lower" does
// not read as "low".
func extractSeverity(text string) string {
	lower := strings.ToLower(text)
	level, at := "medium", -1
	for token, lv := range severityMap {
		pattern := regexp.QuoteMeta(token)
		if token[0] < 0x80 {
			pattern = `\b` + pattern + `\b`
		}
		if loc := regexp.MustCompile(pattern).FindStringIndex(lower); loc != nil && (at < 0 || loc[0] < at) {
			level, at = lv, loc[0]
		}
	}
	return level
}

// extractListItems pulls bullet ("-", "*") or numbered ("1.") list items
// out of a section body; a body with no list markers falls back to
// comma-splitting the first line.
func extractListItems(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "-"), strings.HasPrefix(trimmed, "*"):
			items = append(items, strings.TrimSpace(trimmed[1:]))
		default:
			if m := regexp.MustCompile(`^\d+[.)]\s*(.+)$`).FindStringSubmatch(trimmed); m != nil {
				items = append(items, strings.TrimSpace(m[1]))
			}
		}
	}
	if len(items) > 0 {
		return items
	}
	firstLine := strings.TrimSpace(strings.SplitN(body, "\n", 2)[0])
	if firstLine == "" {
		return nil
	}
	for _, piece := range strings.Split(firstLine, ",") {
		if p := strings.TrimSpace(piece); p != "" {
			items = append(items, p)
		}
	}
	return items
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
