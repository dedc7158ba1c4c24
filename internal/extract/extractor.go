package extract

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/PuerkitoBio/goquery"
)

// Attributes written by the browser snapshot with the rendered size of every image.
const (
	WidthAttr  = "data-scrape-w"
	HeightAttr = "data-scrape-h"
)

var sourceAttrs = []string{"data-src", "data-lazy-src", "data-original", "data-url"}

// Matched as whole words of the path or the element markers, so hosts like cdn.lexiconscans.com
// and folders like /uploader/ are not mistaken for icons or loaders.
var defaultExclude = map[string]bool{
	"logo": true, "avatar": true, "icon": true, "banner": true, "ad": true, "advert": true,
	"advertisement": true, "spinner": true, "loader": true, "loading": true, "placeholder": true,
	"gravatar": true, "emoji": true, "sprite": true, "favicon": true,
}

var markerExclude = map[string]bool{"logo": true, "avatar": true, "icon": true}

var nonImageExt = map[string]bool{
	".svg": true, ".ico": true, ".js": true, ".css": true, ".html": true, ".htm": true, ".php": true,
}

const chromeSelector = "nav, header, footer, aside"

var chromeMarkers = []string{"comment", "sidebar", "related", "recommend", "disqus"}

type Extractor struct {
	minWidth  int
	minHeight int
}

// New returns an extractor using minWidth and minHeight for rules that set no size floor.
func New(minWidth, minHeight int) *Extractor {
	return &Extractor{minWidth: minWidth, minHeight: minHeight}
}

// Result is the outcome of a scan. Excluded counts the images of the chosen container dropped by
// the exclusion words or patterns.
type Result struct {
	Candidates []model.ImageCandidate
	Excluded   int
}

// Extract returns the chapter images of the page in document order. The first container of the
// rule that holds at least one qualifying image wins.
func (e *Extractor) Extract(html string, rule Rule) ([]model.ImageCandidate, error) {
	res, err := e.Scan(html, rule)
	return res.Candidates, err
}

// Scan is Extract with the exclusion count. When no container qualifies, Excluded is taken from
// the last container present on the page.
func (e *Extractor) Scan(html string, rule Rule) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	containers := rule.Containers
	if len(containers) == 0 {
		containers = genericContainers
	}
	images := rule.Images
	if images == "" {
		images = "img"
	}

	var res Result
	for _, container := range containers {
		scope := doc.Find(container)
		if scope.Length() == 0 {
			continue
		}
		res = Result{}
		scope.Find(images).Each(func(i int, s *goquery.Selection) {
			src, v := e.qualify(s, rule)
			switch v {
			case kept:
				res.Candidates = append(res.Candidates, model.ImageCandidate{RawURL: src, DOMIndex: i})
			case dropExcluded:
				res.Excluded++
			}
		})
		if len(res.Candidates) > 0 {
			return res, nil
		}
	}
	return res, nil
}

type verdict int

const (
	kept verdict = iota
	dropExcluded
	dropped
)

func (e *Extractor) qualify(s *goquery.Selection, rule Rule) (string, verdict) {
	src := Source(s)
	if src == "" {
		return "", dropped
	}
	if rule.SrcPrefix != "" && !strings.HasPrefix(src, rule.SrcPrefix) {
		return "", dropped
	}
	if excluded(src, s, rule.Exclude) {
		return "", dropExcluded
	}
	if rule.Generic() && inChrome(s) {
		return "", dropped
	}

	minW, minH := rule.MinWidth, rule.MinHeight
	if minW == 0 {
		minW = e.minWidth
	}
	if minH == 0 {
		minH = e.minHeight
	}
	w, h := dimension(s, WidthAttr, "width"), dimension(s, HeightAttr, "height")
	if (w > 0 && w < minW) || (h > 0 && h < minH) {
		return "", dropped
	}
	return src, kept
}

// Source picks the real image address of an img element, preferring lazy-load attributes over
// placeholder src values.
func Source(s *goquery.Selection) string {
	for _, attr := range sourceAttrs {
		if v := usable(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	for _, attr := range []string{"data-srcset", "srcset"} {
		if v := largestFromSrcset(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return usable(s.AttrOr("src", ""))
}

func usable(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "data:") || v == "about:blank" || v == "#" {
		return ""
	}
	return v
}

// largestFromSrcset returns the entry with the biggest width or density descriptor.
func largestFromSrcset(srcset string) string {
	best, bestScore := "", -1.0
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 || usable(fields[0]) == "" {
			continue
		}
		score := 1.0
		if len(fields) > 1 {
			d := fields[1]
			if n, err := strconv.ParseFloat(strings.TrimRight(d, "wx"), 64); err == nil {
				score = n
			}
		}
		if score > bestScore {
			best, bestScore = fields[0], score
		}
	}
	return best
}

// excluded matches the built-in words against the words of the URL path and the element markers,
// and the rule patterns against the path. The host never takes part.
func excluded(src string, s *goquery.Selection, extra []string) bool {
	p := strings.ToLower(src)
	if u, err := url.Parse(src); err == nil {
		p = strings.ToLower(u.Path)
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if nonImageExt[path.Ext(p)] {
		return true
	}
	for _, w := range words(p) {
		if hasWord(defaultExclude, w) {
			return true
		}
	}
	markers := s.AttrOr("class", "") + " " + s.AttrOr("id", "") + " " + s.AttrOr("alt", "")
	for _, w := range words(strings.ToLower(markers)) {
		if hasWord(markerExclude, w) {
			return true
		}
	}
	for _, x := range extra {
		if x != "" && strings.Contains(p, strings.ToLower(x)) {
			return true
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// hasWord accepts the plural form as well, so /icons/ and /ads/ count.
func hasWord(set map[string]bool, w string) bool {
	return set[w] || (len(w) > 1 && strings.HasSuffix(w, "s") && set[w[:len(w)-1]])
}

func inChrome(s *goquery.Selection) bool {
	if s.Closest(chromeSelector).Length() > 0 {
		return true
	}
	found := false
	s.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		marker := strings.ToLower(p.AttrOr("class", "") + " " + p.AttrOr("id", ""))
		for _, m := range chromeMarkers {
			if strings.Contains(marker, m) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func dimension(s *goquery.Selection, attrs ...string) int {
	for _, a := range attrs {
		v, ok := s.Attr(a)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
		if err == nil && n > 0 {
			return int(n)
		}
	}
	return 0
}
