// Package urlx pulls shared links out of generated summary markdown. Only the
// dedicated link section of a summary is scanned, so URLs quoted elsewhere in
// the digest are not collected twice.
package urlx

import (
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Extracted is one link found in a summary's link section.
type Extracted struct {
	URL          string
	Descriptions []string
}

// URLs terminate at whitespace, quotes, closing brackets and Hangul, so prose
// glued to a link does not leak into it.
var urlPattern = regexp.MustCompile(`(?i)(https?://[^\s<>"'\)\]` + "가-힣" + `]+)`)

var (
	bracketMeta = regexp.MustCompile(`\[.*?\]`)
	parenDesc   = regexp.MustCompile(`\((.+)\)`)
	emptyParens = regexp.MustCompile(`\(\s*\)`)
)

// sectionStart reports whether a line opens the link section of a summary.
func sectionStart(line string) bool {
	return strings.Contains(line, "### 링크") ||
		strings.Contains(line, "### 🔗 링크") ||
		strings.Contains(line, "### URL")
}

// sectionEnd reports whether a line opens a different section, closing the
// link section.
func sectionEnd(line string) bool {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "http") {
		return false
	}
	return strings.HasPrefix(line, "### ") || strings.HasPrefix(line, "## ")
}

// FromSummary extracts every URL in the summary's link section, merging the
// descriptions of repeated URLs. Results are sorted by lowercased URL.
func FromSummary(text string) []Extracted {
	byURL := make(map[string][]string)
	var order []string

	inSection := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case sectionStart(line):
			inSection = true
			continue
		case inSection && sectionEnd(line):
			inSection = false
			continue
		}
		if !inSection {
			continue
		}

		url, desc := lineURL(line)
		if url == "" {
			continue
		}
		if _, seen := byURL[url]; !seen {
			order = append(order, url)
			byURL[url] = nil
		}
		if desc != "" && !slices.Contains(byURL[url], desc) {
			byURL[url] = append(byURL[url], desc)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		return strings.ToLower(order[i]) < strings.ToLower(order[j])
	})
	out := make([]Extracted, 0, len(order))
	for _, u := range order {
		out = append(out, Extracted{URL: u, Descriptions: byURL[u]})
	}
	return out
}

// lineURL extracts the URL and its description from one list line, e.g.
// "- [alice] useful tool: https://example.com (release notes)".
func lineURL(line string) (string, string) {
	cleaned := strings.TrimSpace(bracketMeta.ReplaceAllString(line, ""))
	cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "- "))

	loc := urlPattern.FindStringIndex(cleaned)
	if loc == nil {
		return "", ""
	}
	url := cleaned[loc[0]:loc[1]]
	url = strings.TrimRight(url, `.,;:!?)]'"`)

	after := strings.TrimSpace(cleaned[loc[1]:])
	if m := parenDesc.FindStringSubmatch(after); m != nil {
		return url, strings.TrimSpace(m[1])
	}

	before := strings.TrimSpace(cleaned[:loc[0]])
	desc := strings.TrimSpace(before + " " + after)
	desc = strings.Trim(desc, ": ")
	desc = strings.TrimSpace(emptyParens.ReplaceAllString(desc, ""))
	return url, desc
}
