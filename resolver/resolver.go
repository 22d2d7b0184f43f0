// Package resolver maps an incoming proxy request onto the absolute
// Upstream URL it targets.
//
// The Referer-fallback branch is a known hazard, not engineered away: it
// reuses the *current* request's path and query with the *Referer's*
// target origin, which can misroute when the current path happens to
// collide with a legitimate proxy route.
package resolver

import (
	"net/url"

	"github.com/warpproxy/warp/errkind"
	"github.com/warpproxy/warp/urlcodec"
)

// Request is the minimal view of an inbound HTTP request the resolver
// needs: independent of any particular HTTP server library.
type Request struct {
	Path     string
	RawQuery string
	Referer  string
}

// Resolve decodes a request's target in priority order: path-form first,
// then the url= query parameter, then Referer-fallback splice. Fails with
// MissingTarget when none apply, or InvalidURL when a candidate string
// does not parse as an absolute URL.
func Resolve(req Request) (*url.URL, error) {
	if scheme, authority, rest, ok := urlcodec.ParsePathForm(req.Path); ok {
		raw := scheme + "://" + authority + rest
		if req.RawQuery != "" {
			raw += "?" + req.RawQuery
		}
		return parseAbsolute(raw)
	}

	if raw, ok := urlcodec.DecodeQueryForm(req.RawQuery); ok {
		return parseAbsolute(raw)
	}

	if req.Referer != "" {
		if target, ok := spliceFromReferer(req); ok {
			return target, nil
		}
	}

	return nil, errkind.New(errkind.MissingTarget, nil)
}

// spliceFromReferer reconstructs the Upstream URL for a bare-path request
// (one that matched neither proxy-local form above) by taking the scheme
// and authority from a proxy-local Referer and the path+query from the
// current request line.
func spliceFromReferer(req Request) (*url.URL, bool) {
	refererURL, err := url.Parse(req.Referer)
	if err != nil {
		return nil, false
	}

	var scheme, authority string
	if s, a, _, ok := urlcodec.ParsePathForm(refererURL.Path); ok {
		scheme, authority = s, a
	} else if raw, ok := urlcodec.DecodeQueryForm(refererURL.RawQuery); ok {
		base, err := url.Parse(raw)
		if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
			return nil, false
		}
		scheme, authority = base.Scheme, base.Host
	} else {
		return nil, false
	}

	spliced := &url.URL{
		Scheme:   scheme,
		Host:     authority,
		Path:     req.Path,
		RawQuery: req.RawQuery,
	}
	return spliced, true
}

func parseAbsolute(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, errkind.WithProvided(errkind.InvalidURL, raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errkind.WithProvided(errkind.InvalidURL, raw, nil)
	}
	if parsed.Host == "" {
		return nil, errkind.WithProvided(errkind.InvalidURL, raw, nil)
	}
	return parsed, nil
}
