package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// blacklistedPrefixes are file names that look like pages but never are.
var blacklistedPrefixes = []string{"favicon.", "apple-touch-icon.", "apple-touch-icon-precomposed."}

// skippedExtensions are non-document resources.
var skippedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".bmp": {}, ".avif": {},
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	".zip": {}, ".gz": {}, ".tgz": {}, ".tar": {}, ".rar": {}, ".7z": {},
	".mp3": {}, ".mp4": {}, ".webm": {}, ".mov": {}, ".wav": {}, ".ogg": {},
	".pdf": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".xml": {}, ".rss": {}, ".atom": {}, ".json": {}, ".txt": {},
}

// NormalizeURL resolves raw against base and reduces it to its canonical form.
// It lowercases the scheme and host, removes default ports, and drops the query,
// the fragment and any trailing slash. The site root becomes scheme://host.
func NormalizeURL(raw, base string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme == "" || ref.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}

	u := &url.URL{
		Scheme:  strings.ToLower(ref.Scheme),
		Host:    strings.ToLower(ref.Host),
		Path:    ref.Path,
		RawPath: ref.RawPath,
	}

	// Remove default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")
	return u.String(), nil
}

// IsCrawlable reports whether the normalized link belongs to root's site and
// points at something that may be a document.
func IsCrawlable(link, root string) bool {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	r, err := url.Parse(root)
	if err != nil || !strings.EqualFold(u.Host, r.Host) {
		return false
	}
	name := strings.ToLower(path.Base(u.Path))
	for _, prefix := range blacklistedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	_, skip := skippedExtensions[path.Ext(name)]
	return !skip
}

// pathOf returns the URL path used as a breadcrumb; the root is "/".
func pathOf(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
