package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		base string
		want string
	}{
		{"root relative to base", "/", "https://overreacted.io", "https://overreacted.io"},
		{"trailing slash", "https://overreacted.io/why-hooks/", "", "https://overreacted.io/why-hooks"},
		{"query and fragment", "/a-post/?utm=x#intro", "https://overreacted.io/", "https://overreacted.io/a-post"},
		{"case and default port", "HTTPS://OverReacted.IO:443/Post", "", "https://overreacted.io/Post"},
		{"http default port", "http://example.com:80/", "", "http://example.com"},
		{"custom port kept", "http://localhost:8080/docs/", "", "http://localhost:8080/docs"},
		{"relative path", "../sibling/", "https://example.com/a/b/", "https://example.com/a/sibling"},
		{"escaped slash kept", "https://x.test/a%2Fb/", "", "https://x.test/a%2Fb"},
		{"escaped space", "https://x.test/my%20post/", "", "https://x.test/my%20post"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.raw, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelativeWithoutBase(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/just/a/path", "")
	require.Error(t, err)
	_, err = NormalizeURL("http://%zz", "")
	require.Error(t, err)
}

func TestIsCrawlable(t *testing.T) {
	t.Parallel()

	root := "https://overreacted.io"
	tests := map[string]bool{
		"https://overreacted.io/why-hooks":                      true,
		"https://overreacted.io":                                true,
		"https://OVERREACTED.io/x":                              true,
		"https://other.dev/why-hooks":                           false,
		"ftp://overreacted.io/file":                             false,
		"https://overreacted.io/favicon.ico":                    false,
		"https://overreacted.io/favicon.png":                    false,
		"https://overreacted.io/apple-touch-icon.png":           false,
		"https://overreacted.io/apple-touch-icon-precomposed.x": false,
		"https://overreacted.io/rss.xml":                        false,
		"https://overreacted.io/static/app.js":                  false,
		"https://overreacted.io/paper.PDF":                      false,
		"https://overreacted.io/post.html":                      true,
	}
	for link, want := range tests {
		assert.Equal(t, want, IsCrawlable(link, root), link)
	}
}

func TestPathOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", pathOf("https://overreacted.io"))
	assert.Equal(t, "/why-hooks", pathOf("https://overreacted.io/why-hooks"))
}

func TestHead(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héll", head("héllo", 4))
	assert.Equal(t, "héllo", head("héllo", 0))
	assert.Equal(t, "héllo", head("héllo", 5))
}
