package engine

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var (
	metaEquivSel = cascadia.MustCompile("meta[http-equiv][content]")

	// Canonical markers, in priority order.
	canonicalSels = []cascadia.Selector{
		cascadia.MustCompile(`meta[property="og:url"]`),
		cascadia.MustCompile(`meta[name="twitter:url"]`),
		cascadia.MustCompile(`link[rel~="canonical"]`),
	}

	anchorSel = cascadia.MustCompile("a[href]")

	// reRefreshURL locates the "url=" key inside a refresh content value.
	reRefreshURL = regexp.MustCompile(`(?i)(?:^|[;,\s])url\s*=\s*`)
)

// ExtractRedirectTarget returns the first redirect target found in the
// markup: the meta refresh URL, then og:url, twitter:url and the canonical
// link. It returns "" when nothing matches or the markup cannot be parsed.
// The target is returned as written, relative references included.
func ExtractRedirectTarget(rawHTML string) string {
	doc := parseDocument(rawHTML)
	if doc == nil {
		return ""
	}
	if target := metaRefresh(doc); target != "" {
		return target
	}
	return canonical(doc)
}

// ExtractMetaRefresh returns only the meta refresh target.
func ExtractMetaRefresh(rawHTML string) string {
	doc := parseDocument(rawHTML)
	if doc == nil {
		return ""
	}
	return metaRefresh(doc)
}

// ExtractAnchorTarget returns the href of the first anchor that is an
// absolute http(s) URL outside the aggregator.
func ExtractAnchorTarget(rawHTML string, cls *Classifier) string {
	doc := parseDocument(rawHTML)
	if doc == nil {
		return ""
	}

	var target string
	doc.FindMatcher(anchorSel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			return true
		}
		if cls.IsExternal(href) {
			target = href
			return false
		}
		return true
	})
	return target
}

func parseDocument(rawHTML string) *goquery.Document {
	if strings.TrimSpace(rawHTML) == "" {
		return nil
	}
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}
	return goquery.NewDocumentFromNode(root)
}

func metaRefresh(doc *goquery.Document) string {
	var target string
	doc.FindMatcher(metaEquivSel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("http-equiv", "")), "refresh") {
			return true
		}
		target = parseRefreshContent(s.AttrOr("content", ""))
		return target == ""
	})
	return target
}

// parseRefreshContent extracts the URL from a refresh value such as
// `0; URL='https://example.com/a'`.
func parseRefreshContent(content string) string {
	loc := reRefreshURL.FindStringIndex(content)
	if loc == nil {
		return ""
	}
	target := strings.TrimSpace(content[loc[1]:])
	target = strings.Trim(target, `"'`)
	return strings.TrimSpace(target)
}

func canonical(doc *goquery.Document) string {
	for _, sel := range canonicalSels {
		var target string
		doc.FindMatcher(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			target = strings.TrimSpace(s.AttrOr("content", ""))
			if target == "" {
				target = strings.TrimSpace(s.AttrOr("href", ""))
			}
			return target == ""
		})
		if target != "" {
			return target
		}
	}
	return ""
}
