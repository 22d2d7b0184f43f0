// Package cssrewrite rewrites url(...) references in CSS text using a
// single regex pass over the raw bytes.
package cssrewrite

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/warpproxy/warp/urlcodec"
)

// urlRegexp matches a CSS url(...) reference: case-insensitive via the
// (?i) flag, tolerant of
// leading whitespace and optional quotes, capturing the raw URL body in
// group 2 so the surrounding quote characters (group 1/3) can be
// preserved verbatim.
var urlRegexp = regexp.MustCompile(`(?i)url\((['"]?)[ \t\f]*([\x09\x21\x23-\x26\x28\x2a-\x7E]+)(['"]?)\)?`)

// Rewrite substitutes every url(...) reference in css with its proxy-local
// equivalent, resolved against base. On any internal error the original
// css is returned unchanged.
func Rewrite(css []byte, base *url.URL, proxyBase string) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = css, nil
		}
	}()

	matches := urlRegexp.FindAllSubmatchIndex(css, -1)
	if matches == nil {
		return css, nil
	}

	var b strings.Builder
	b.Grow(len(css))
	cursor := 0

	for _, m := range matches {
		urlStart, urlEnd := m[4], m[5]
		rewritten := urlcodec.EncodeResolved(string(css[urlStart:urlEnd]), base, proxyBase)
		b.Write(css[cursor:urlStart])
		b.WriteString(rewritten)
		cursor = urlEnd
	}
	b.Write(css[cursor:])

	return []byte(b.String()), nil
}
