package proxy

import (
	"net/url"
	"strings"
)

// RestPath strips the /api/{service} selector from an escaped inbound path
// and returns the remainder, always starting with "/".
func RestPath(escapedPath string) string {
	parts := strings.SplitN(escapedPath, "/", 4)
	if len(parts) < 4 {
		return "/"
	}
	return "/" + parts[3]
}

// joinPath appends an escaped rest path to the base URL's path and returns
// the decoded and raw forms for url.URL.
func joinPath(base *url.URL, rest string) (path, rawPath string) {
	escaped := strings.TrimSuffix(base.EscapedPath(), "/") + rest
	if escaped == "" {
		escaped = "/"
	}

	unescaped, err := url.PathUnescape(escaped)
	if err != nil || unescaped == escaped {
		return escaped, ""
	}
	return unescaped, escaped
}
