package normalize

import (
	"testing"

	"github.com/IliaW/chapter-scrape-worker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(raw string) model.ImageCandidate {
	return model.ImageCandidate{RawURL: raw}
}

func TestRelativeResolvedAgainstPage(t *testing.T) {
	n, err := New("https://site.com/ch1", true)
	require.NoError(t, err)

	img, v := n.Normalize(candidate("/img/1.jpg"))
	require.Equal(t, Accepted, v)
	assert.Equal(t, "https://site.com/img/1.jpg", img.URL)
}

func TestRelativeDroppedWithoutPrepend(t *testing.T) {
	n, err := New("https://site.com/ch1", false)
	require.NoError(t, err)

	_, v := n.Normalize(candidate("/img/1.jpg"))
	assert.Equal(t, Relative, v)

	img, v := n.Normalize(candidate("https://cdn.site.com/img/1.jpg"))
	require.Equal(t, Accepted, v)
	assert.Equal(t, "https://cdn.site.com/img/1.jpg", img.URL)
}

func TestProtocolRelativeTakesPageScheme(t *testing.T) {
	n, err := New("https://site.com/ch1", false)
	require.NoError(t, err)

	img, v := n.Normalize(candidate("//cdn.site.com/a.png"))
	require.Equal(t, Accepted, v)
	assert.Equal(t, "https://cdn.site.com/a.png", img.URL)
}

func TestDuplicatesKeepFirst(t *testing.T) {
	n, err := New("https://site.com/series/ch1", true)
	require.NoError(t, err)

	var out []string
	for _, raw := range []string{
		"https://site.com/img/1.jpg",
		"/img/2.jpg",
		"/img/1.jpg",
		"https://site.com/img/2.jpg#page",
		"https://site.com/img/3.jpg?utm_source=feed",
		"https://site.com/img/3.jpg",
	} {
		if img, v := n.Normalize(candidate(raw)); v == Accepted {
			out = append(out, img.URL)
		}
	}

	assert.Equal(t, []string{
		"https://site.com/img/1.jpg",
		"https://site.com/img/2.jpg",
		"https://site.com/img/3.jpg",
	}, out)
}

func TestMalformedAndUnsupported(t *testing.T) {
	n, err := New("https://site.com/ch1", true)
	require.NoError(t, err)

	tests := []struct {
		raw  string
		want Verdict
	}{
		{"", Malformed},
		{"   ", Malformed},
		{"https://%zz/bad.jpg", Malformed},
		{"http://", Malformed},
		{"javascript:void(0)", Unsupported},
		{"data:image/png;base64,AAAA", Unsupported},
		{"ftp://site.com/a.jpg", Unsupported},
	}
	for _, tt := range tests {
		_, v := n.Normalize(candidate(tt.raw))
		assert.Equal(t, tt.want, v, tt.raw)
	}
}

func TestSignedQueryKept(t *testing.T) {
	n, err := New("https://site.com/ch1", false)
	require.NoError(t, err)

	img, v := n.Normalize(candidate("https://cdn.site.com/p/1.webp?Expires=1&Signature=abc&gclid=x"))
	require.Equal(t, Accepted, v)
	assert.Equal(t, "https://cdn.site.com/p/1.webp?Expires=1&Signature=abc", img.URL)
}

func TestNewRejectsRelativePage(t *testing.T) {
	_, err := New("/ch1", true)
	assert.Error(t, err)
}

func TestHostCaseDoesNotDefeatDuplicates(t *testing.T) {
	n, err := New("https://site.com/ch1", false)
	require.NoError(t, err)

	img, v := n.Normalize(candidate("https://CDN.Site.com/img/1.jpg"))
	require.Equal(t, Accepted, v)
	assert.Equal(t, "https://cdn.site.com/img/1.jpg", img.URL)

	_, v = n.Normalize(candidate("https://cdn.site.com/img/1.jpg"))
	assert.Equal(t, Duplicate, v)
}

func TestTrackingRemovalKeepsQueryOrder(t *testing.T) {
	n, err := New("https://site.com/ch1", false)
	require.NoError(t, err)

	img, v := n.Normalize(candidate("https://cdn.site.com/p/2.webp?z=9&utm_medium=x&a=1&fbclid=y&m=%2F"))
	require.Equal(t, Accepted, v)
	assert.Equal(t, "https://cdn.site.com/p/2.webp?z=9&a=1&m=%2F", img.URL)
}
