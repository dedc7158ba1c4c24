package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/IliaW/chapter-scrape-worker/internal/model"
)

type Verdict int

const (
	Accepted Verdict = iota
	Duplicate
	Relative
	Malformed
	Unsupported
)

func (v Verdict) String() string {
	return [...]string{"accepted", "duplicate", "relative url without base", "malformed url",
		"unsupported scheme"}[v]
}

var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
}

// Normalizer resolves and de-duplicates the image candidates of one page. Not safe for concurrent use.
type Normalizer struct {
	base        *url.URL
	prependBase bool
	seen        map[string]struct{}
}

func New(pageURL string, prependBase bool) (*Normalizer, error) {
	base, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("page url must be absolute")
	}
	return &Normalizer{
		base:        base,
		prependBase: prependBase,
		seen:        make(map[string]struct{}),
	}, nil
}

// Normalize returns the absolute form of the candidate. Anything but Accepted means the
// candidate must be dropped.
func (n *Normalizer) Normalize(c model.ImageCandidate) (model.NormalizedImage, Verdict) {
	raw := strings.TrimSpace(c.RawURL)
	if raw == "" {
		return model.NormalizedImage{}, Malformed
	}
	u, err := url.Parse(raw)
	if err != nil {
		return model.NormalizedImage{}, Malformed
	}

	switch {
	case u.Scheme != "":
		// absolute
	case u.Host != "":
		u.Scheme = n.base.Scheme // protocol-relative
	case n.prependBase:
		u = n.base.ResolveReference(u)
	default:
		return model.NormalizedImage{}, Relative
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.NormalizedImage{}, Unsupported
	}
	if u.Hostname() == "" {
		return model.NormalizedImage{}, Malformed
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment, u.RawFragment = "", ""
	stripTracking(u)

	final := u.String()
	if _, ok := n.seen[final]; ok {
		return model.NormalizedImage{}, Duplicate
	}
	n.seen[final] = struct{}{}

	return model.NormalizedImage{URL: final}, Accepted
}

// stripTracking drops tracking parameters and leaves the rest of the query byte for byte, since
// signed CDN links break when their parameters are re-encoded or reordered.
func stripTracking(u *url.URL) {
	if u.RawQuery == "" {
		return
	}
	pairs := strings.Split(u.RawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		key = strings.ToLower(key)
		if strings.HasPrefix(key, "utm_") || trackingParams[key] {
			continue
		}
		kept = append(kept, pair)
	}
	u.RawQuery = strings.Join(kept, "&")
}
