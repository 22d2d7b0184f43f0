// Package urlcodec implements the URL Codec: encoding an absolute upstream
// URL into a proxy-local URL, and the low-level parsing helpers the
// resolver package uses to invert that encoding.
//
// The path-form encoding this package prefers is the one design decision
// that makes navigation state-free: a subresource request the browser
// resolves against the current document URL arrives as a bare path that
// still self-describes its upstream scheme+authority, so it can be decoded
// without any server-side session.
package urlcodec

import (
	"net/url"
	"regexp"
	"strings"
)

// pathFormRegexp matches the path-form encoding:
// /proxy/<scheme>/<authority>[<path>][?<query>][#<fragment>]. Everything
// after the authority is captured as a single group so the caller can
// splice in the raw, byte-exact query string from the request line rather
// than a re-encoded one.
var pathFormRegexp = regexp.MustCompile(`^/proxy/(https?)/([^/]+)(/.*)?$`)

// ParsePathForm decodes a path-form proxy-local request path (the request
// line's path only, not the query) into scheme, authority, and the
// remaining path (defaulting to "/"). ok is false when path does not match
// the path-form grammar at all.
func ParsePathForm(path string) (scheme, authority, rest string, ok bool) {
	m := pathFormRegexp.FindStringSubmatch(path)
	if m == nil {
		return "", "", "", false
	}
	scheme = m[1]
	authority = m[2]
	rest = m[3]
	if rest == "" {
		rest = "/"
	}
	return scheme, authority, rest, true
}

// DecodeQueryForm extracts and percent-decodes the "url" query parameter
// from a raw query string. It tolerates a value that has already been
// decoded once (a double-escaped "%2520" as well as a bare "https://...").
func DecodeQueryForm(rawQuery string) (string, bool) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", false
	}
	raw := values.Get("url")
	if raw == "" {
		return "", false
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	return raw, true
}

// shortCircuitSchemes are never rewritten; their values pass through
// encode() unchanged.
var shortCircuitSchemes = []string{
	"data:",
	"javascript:",
	"mailto:",
	"tel:",
	"blob:",
	"about:",
}

// IsShortCircuit reports whether raw is a value the codec must leave
// untouched: empty, the bare fragment "#", or one of the short-circuit
// schemes.
func IsShortCircuit(raw string) bool {
	if raw == "" || raw == "#" {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range shortCircuitSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Resolve resolves ref against base per RFC 3986, additionally treating a
// scheme-relative ref ("//host/path") as https.
func Resolve(base *url.URL, ref string) (*url.URL, error) {
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}
	parsedRef, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if base == nil {
		if !parsedRef.IsAbs() {
			return nil, err
		}
		return parsedRef, nil
	}
	return base.ResolveReference(parsedRef), nil
}

// Encode turns an absolute upstream URL into a proxy-local URL rooted at
// proxyBase (scheme://host, no trailing slash). Short-circuit values and
// unparseable input are returned unchanged, per spec.
func Encode(abs string, proxyBase string) string {
	if IsShortCircuit(abs) {
		return abs
	}

	// Idempotence: a value that is already a proxy-local URL under this
	// exact proxyBase re-encodes to itself, rather than being wrapped a
	// second time. This matters because a
	// second rewrite pass resolves an already-rewritten, absolute
	// proxy-local href against the (unchanged) upstream document base,
	// which yields the proxy-local string itself as the "absolute URL"
	// to encode.
	trimmedBase := strings.TrimRight(proxyBase, "/")
	if rest := strings.TrimPrefix(abs, trimmedBase); rest != abs {
		if _, _, _, ok := ParsePathForm(rest); ok {
			return abs
		}
	}

	normalized := abs
	if strings.HasPrefix(normalized, "//") {
		normalized = "https:" + normalized
	}

	parsed, err := url.Parse(normalized)
	if err != nil {
		return abs
	}
	if !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return abs
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(proxyBase, "/"))
	b.WriteString("/proxy/")
	b.WriteString(parsed.Scheme)
	b.WriteString("/")
	b.WriteString(parsed.Host)
	if parsed.Path == "" {
		b.WriteString("/")
	} else {
		b.WriteString(parsed.EscapedPath())
	}
	if parsed.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(parsed.RawQuery)
	}
	if parsed.Fragment != "" {
		b.WriteString("#")
		b.WriteString(parsed.EscapedFragment())
	}
	return b.String()
}

// EncodeResolved resolves ref against base and encodes the result. Used by
// the HTML and CSS rewriters, which always have a relative reference plus
// the document's own upstream URL as base.
func EncodeResolved(ref string, base *url.URL, proxyBase string) string {
	if IsShortCircuit(ref) {
		return ref
	}
	resolved, err := Resolve(base, ref)
	if err != nil {
		return ref
	}
	return Encode(resolved.String(), proxyBase)
}
