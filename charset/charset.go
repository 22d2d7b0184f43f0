// Package charset chooses a decoder for a response body, exposing an
// explicit priority order (Content-Type header, then an HTML <meta>
// sniff, then a statistical fallback for bodies that are not valid UTF-8,
// then UTF-8) and its alias table as
// first-class, independently testable steps.
package charset

import (
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// aliases maps names the wild web actually sends onto the canonical name
// golang.org/x/text/encoding/htmlindex understands.
var aliases = map[string]string{
	"iso-8859-1":   "latin1",
	"iso8859-1":    "latin1",
	"windows-1252": "cp1252",
	"utf8":         "utf-8",
}

// Normalize lowercases a charset label, maps underscores to hyphens, and
// resolves the known aliases.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	if canon, ok := aliases[name]; ok {
		return canon
	}
	return name
}

// Detect chooses an encoding for body given the declared Content-Type
// header, in order: explicit charset parameter, then (for text/html) a
// <meta> sniff over the first 1024 bytes, then (only for a body that is not
// valid UTF-8) a statistical guess, then UTF-8. The returned encoding is never nil; an unsupported or
// undetectable charset falls back to UTF-8 rather than failing.
func Detect(contentType string, body []byte) (encoding.Encoding, string) {
	if name := charsetFromContentType(contentType); name != "" {
		if enc, ok := lookup(name); ok {
			return enc, name
		}
	}

	if strings.Contains(strings.ToLower(contentType), "text/html") {
		if name := sniffMeta(body); name != "" {
			if enc, ok := lookup(name); ok {
				return enc, name
			}
		}
	}

	if enc, name, ok := detectStatistical(body); ok {
		return enc, name
	}

	return encoding.Nop, "utf-8"
}

// Decode transcodes body from enc into a UTF-8 string. When enc is a no-op
// (already UTF-8) this is effectively a validating copy.
func Decode(body []byte, enc encoding.Encoding) (string, error) {
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func charsetFromContentType(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if cs, ok := params["charset"]; ok {
		return Normalize(cs)
	}
	return ""
}

// metaCharsetRegexp captures the charset label of a <meta charset="X"> or
// <meta http-equiv="Content-Type" content="...; charset=X"> tag.
var metaCharsetRegexp = regexp.MustCompile(`(?i)<meta\s[^>]*?charset\s*=\s*["']?\s*([a-z0-9_:.\-]+)`)

// sniffMeta scans the first 1024 bytes for a <meta charset="X"> or
// <meta http-equiv="Content-Type" content="...; charset=X"> declaration and
// returns the normalized label, or "" when there is none.
func sniffMeta(body []byte) string {
	limit := len(body)
	if limit > 1024 {
		limit = 1024
	}
	m := metaCharsetRegexp.FindSubmatch(body[:limit])
	if m == nil {
		return ""
	}
	return Normalize(string(m[1]))
}

// detectStatistical is the last-resort fallback for text bodies that carry
// neither a Content-Type charset parameter nor an HTML <meta> hint (e.g. a
// bare text/plain or text/css response) and are not valid UTF-8; a valid
// UTF-8 body is left to the UTF-8 default.
func detectStatistical(body []byte) (encoding.Encoding, string, bool) {
	if len(body) == 0 || utf8.Valid(body) {
		return nil, "", false
	}
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(body)
	if err != nil || result == nil {
		return nil, "", false
	}
	name := Normalize(result.Charset)
	enc, ok := lookup(name)
	if !ok {
		return nil, "", false
	}
	return enc, name, true
}

func lookup(name string) (encoding.Encoding, bool) {
	if name == "" || name == "utf-8" {
		return encoding.Nop, true
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, false
	}
	return enc, true
}
