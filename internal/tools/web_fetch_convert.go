package tools

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// renderJSON pretty-prints a JSON body. Malformed input passes through raw.
func renderJSON(body []byte) (string, string) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return string(body), "raw"
	}
	pretty, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return string(body), "raw"
	}
	return string(pretty), "json"
}

// chromeBlocks are elements whose contents never belong in extracted output:
// scripts, styles, comments, and page chrome.
var chromeBlocks = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b.*?</script>`),
	regexp.MustCompile(`(?is)<style\b.*?</style>`),
	regexp.MustCompile(`(?is)<!--.*?-->`),
	regexp.MustCompile(`(?is)<nav\b.*?</nav>`),
	regexp.MustCompile(`(?is)<header\b.*?</header>`),
	regexp.MustCompile(`(?is)<footer\b.*?</footer>`),
}

var (
	reHeading   = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	rePre       = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)
	reCode      = regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`)
	reBlockq    = regexp.MustCompile(`(?is)<blockquote[^>]*>(.*?)</blockquote>`)
	reAnchor    = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	reImg       = regexp.MustCompile(`(?i)<img[^>]*alt="([^"]*)"[^>]*/?>`)
	reStrong    = regexp.MustCompile(`(?is)<(?:strong|b)\b[^>]*>(.*?)</(?:strong|b)>`)
	reEm        = regexp.MustCompile(`(?is)<(?:em|i)\b[^>]*>(.*?)</(?:em|i)>`)
	reParagraph = regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`)
	reListItem  = regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`)
	reBreak     = regexp.MustCompile(`(?i)<br\s*/?>`)
	reAnyTag    = regexp.MustCompile(`<[^>]+>`)
	reRunsNL    = regexp.MustCompile(`\n{3,}`)
	reRunsSP    = regexp.MustCompile(`[ \t]{2,}`)
)

func stripChrome(page string) string {
	for _, re := range chromeBlocks {
		page = re.ReplaceAllString(page, "")
	}
	return page
}

// renderMarkdown converts an HTML page to markdown. It is a pragmatic
// pattern-based extractor, not a full parser; pathological markup degrades
// to plain text rather than failing.
func renderMarkdown(page string) string {
	s := stripChrome(page)

	s = reHeading.ReplaceAllStringFunc(s, func(m string) string {
		sub := reHeading.FindStringSubmatch(m)
		level := int(sub[1][0] - '0')
		return fmt.Sprintf("\n%s %s\n", strings.Repeat("#", level), strings.TrimSpace(sub[2]))
	})

	// Code before the generic tag strip, so its contents survive intact.
	s = rePre.ReplaceAllString(s, "\n```\n$1\n```\n")
	s = reCode.ReplaceAllString(s, "`$1`")

	s = reBlockq.ReplaceAllStringFunc(s, func(m string) string {
		sub := reBlockq.FindStringSubmatch(m)
		var b strings.Builder
		b.WriteString("\n")
		for _, line := range strings.Split(strings.TrimSpace(sub[1]), "\n") {
			b.WriteString("> " + strings.TrimSpace(line) + "\n")
		}
		return b.String()
	})

	s = reAnchor.ReplaceAllString(s, "[$2]($1)")
	s = reImg.ReplaceAllString(s, "![$1]")
	s = reStrong.ReplaceAllString(s, "**$1**")
	s = reEm.ReplaceAllString(s, "*$1*")
	s = reParagraph.ReplaceAllString(s, "\n$1\n")
	s = reListItem.ReplaceAllString(s, "\n- $1")
	s = reBreak.ReplaceAllString(s, "\n")

	s = reAnyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reRunsNL.ReplaceAllString(s, "\n\n")
	s = reRunsSP.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// renderText converts an HTML page to plain text, one trimmed line per
// block element, blank lines dropped.
func renderText(page string) string {
	s := stripChrome(page)
	s = reParagraph.ReplaceAllString(s, "\n$1\n")
	s = reListItem.ReplaceAllString(s, "\n- $1")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reAnyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reRunsSP.ReplaceAllString(s, " ")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// markdownStripRules remove markdown syntax, keeping the visible text.
var markdownStripRules = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?m)^#{1,6}\s+`), ""},
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile("`([^`]+)`"), "$1"},
	{regexp.MustCompile(`\*\*|__`), ""},
}

// stripMarkdown flattens markdown to plain text for text extraction mode.
func stripMarkdown(md string) string {
	s := md
	for _, rule := range markdownStripRules {
		s = rule.re.ReplaceAllString(s, rule.with)
	}
	s = reRunsNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
