package extract

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule tells the extractor where the chapter images of a site live.
// Zero values fall back to the generic heuristics.
type Rule struct {
	Domain       string   `yaml:"domain"`
	Lazy         *bool    `yaml:"lazy,omitempty"`
	Containers   []string `yaml:"containers,omitempty"`
	Images       string   `yaml:"images,omitempty"`
	SrcPrefix    string   `yaml:"src_prefix,omitempty"`
	MinWidth     int      `yaml:"min_width,omitempty"`
	MinHeight    int      `yaml:"min_height,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`
	WaitSelector string   `yaml:"wait_selector,omitempty"`
}

// Generic reports whether the rule is the fallback rule.
func (r Rule) Generic() bool {
	return r.Domain == ""
}

// EffectiveLazy applies the domain override to the requested lazy mode.
func (r Rule) EffectiveLazy(requested bool) bool {
	if r.Lazy != nil {
		return *r.Lazy
	}
	return requested
}

// Ranked from the most specific reader markup to the whole page.
var genericContainers = []string{
	"#readerarea",
	".reading-content",
	"#chapter-reader",
	".chapter-content",
	".container-chapter-reader",
	".reader-area",
	"#chapter-container",
	"div[data-name='image-item']",
	"main",
	"article",
	"body",
}

func boolPtr(b bool) *bool { return &b }

func builtinRules() []Rule {
	asura := Rule{
		Lazy:         boolPtr(false),
		Containers:   []string{"body"},
		Images:       "img.object-cover",
		SrcPrefix:    "https://gg.asuracomic.net/storage/media/",
		MinWidth:     300,
		MinHeight:    400,
		WaitSelector: "img.object-cover",
	}
	asuraNet, asuraCom := asura, asura
	asuraNet.Domain = "asuracomic.net"
	asuraCom.Domain = "asurascans.com"

	return []Rule{
		asuraNet,
		asuraCom,
		{
			Domain:       "manhuaus.com",
			Lazy:         boolPtr(true),
			Containers:   []string{"div.reading-content"},
			WaitSelector: "div.reading-content img",
		},
		{
			Domain:       "stonescape.xyz",
			Containers:   []string{"div.reading-content", "body"},
			Images:       "img.wp-manga-chapter-img",
			WaitSelector: "img.wp-manga-chapter-img",
		},
		{
			Domain:     "mgeko.cc",
			Lazy:       boolPtr(true),
			Containers: []string{"#chapter-reader"},
		},
		{
			Domain:     "mangapark.net",
			Lazy:       boolPtr(true),
			Containers: []string{"div[data-name='image-item']"},
		},
	}
}

type RuleSet struct {
	rules map[string]Rule
}

func DefaultRules() *RuleSet {
	rs := &RuleSet{rules: make(map[string]Rule)}
	for _, r := range builtinRules() {
		rs.Add(r)
	}
	return rs
}

type rulesFile struct {
	Sites []Rule `yaml:"sites"`
}

// LoadRules returns the built-in rules overlaid with the rules of the YAML file at path.
// An empty path yields the built-ins only.
func LoadRules(path string) (*RuleSet, error) {
	rs := DefaultRules()
	if path == "" {
		return rs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site rules: %w", err)
	}
	if err := rs.Merge(data); err != nil {
		return nil, fmt.Errorf("parse site rules %s: %w", path, err)
	}
	return rs, nil
}

// Merge decodes YAML rules and replaces the rules of the same domains.
func (rs *RuleSet) Merge(data []byte) error {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for i, r := range f.Sites {
		if strings.TrimSpace(r.Domain) == "" {
			return fmt.Errorf("site #%d has no domain", i+1)
		}
		rs.Add(r)
	}
	return nil
}

func (rs *RuleSet) Add(r Rule) {
	r.Domain = canonicalHost(r.Domain)
	rs.rules[r.Domain] = r
}

// Lookup finds the rule for the host of target, trying parent domains before the generic rule.
func (rs *RuleSet) Lookup(target string) Rule {
	u, err := url.Parse(target)
	if err != nil {
		return Rule{}
	}
	host := canonicalHost(u.Hostname())
	for host != "" {
		if r, ok := rs.rules[host]; ok {
			return r
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
		if !strings.Contains(host, ".") {
			break
		}
	}
	return Rule{}
}

func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

func canonicalHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, "www.")
}
