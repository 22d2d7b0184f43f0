// Package pipeline turns an upstream dispatcher.Response into the outgoing
// client response: header filtering, charset decoding, and HTML/CSS
// rewriting, branching on the contenttype.Class the response resolves to,
// with an explicit graceful-degradation contract when rewriting fails.
package pipeline

import (
	"net/url"
	"strings"

	"github.com/warpproxy/warp/charset"
	"github.com/warpproxy/warp/contenttype"
	"github.com/warpproxy/warp/cssrewrite"
	"github.com/warpproxy/warp/dispatcher"
	"github.com/warpproxy/warp/htmlrewrite"
	"github.com/warpproxy/warp/urlcodec"
)

// blockedHeaders are never copied into the outgoing envelope.
var blockedHeaders = map[string]bool{
	"content-security-policy": true,
	"x-frame-options":         true,
	"content-encoding":        true,
	"transfer-encoding":       true,
	"referrer-policy":         true,
}

// stampedHeaders are always present in the outgoing envelope, overriding
// any upstream value of the same name.
var stampedHeaders = map[string]string{
	"Access-Control-Allow-Origin": "*",
	"X-Frame-Options":             "ALLOWALL",
	"Referrer-Policy":             "unsafe-url",
}

// Result is what the pipeline hands back to the HTTP layer: the status
// code, the final header set, and the body ready to write out.
type Result struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

// Options carries request-scoped context the pipeline needs to rewrite
// URLs: the upstream URL the response came from and the proxy's own
// scheme+host.
type Options struct {
	Upstream  *url.URL
	ProxyBase string
	PathForm  bool
}

// Handle copies status and headers, applies the content-type branch, and
// returns the final response ready to write to the client.
func Handle(resp *dispatcher.Response, opts Options) Result {
	header := filterHeaders(resp.Header)
	for k, v := range stampedHeaders {
		header[k] = []string{v}
	}

	if isRedirect(resp.StatusCode) {
		proxifyLocation(header, opts)
	}

	ct := contentTypeOf(resp)
	body := resp.Body

	switch contenttype.Classify(ct) {
	case contenttype.ClassHTML:
		body = rewriteHTML(body, ct, opts)
		header["Content-Type"] = []string{"text/html; charset=utf-8"}

	case contenttype.ClassCSS:
		body = rewriteCSS(body, ct, opts)
		header["Content-Type"] = []string{"text/css; charset=utf-8"}

	case contenttype.ClassPassthrough:
		// forwarded unchanged.

	case contenttype.ClassAttachment:
		header["Content-Disposition"] = []string{"attachment"}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}
}

func filterHeaders(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		if blockedHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

func contentTypeOf(resp *dispatcher.Response) contenttype.ContentType {
	raw := firstHeader(resp.Header, "Content-Type")
	if raw != "" {
		if parsed, err := contenttype.ParseContentType(raw); err == nil {
			return parsed
		}
	}
	return contenttype.Sniff(resp.Body)
}

func firstHeader(header map[string][]string, name string) string {
	for k, v := range header {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// proxifyLocation rewrites a redirect's Location header into proxy-local
// form. The dispatcher only auto-follows GET redirects, so every
// non-GET 3xx (and any GET redirect the caller chose not to follow)
// reaches here still carrying the upstream's raw absolute URL; left
// unrewritten it would send the browser straight to the upstream origin,
// escaping the proxy's URL space entirely.
func proxifyLocation(header map[string][]string, opts Options) {
	for k, v := range header {
		if !strings.EqualFold(k, "Location") || len(v) == 0 {
			continue
		}
		header[k] = []string{urlcodec.EncodeResolved(v[0], opts.Upstream, opts.ProxyBase)}
		return
	}
}

// rewriteHTML decodes the body per the detected charset and rewrites it,
// falling back to the original bytes on any failure.
func rewriteHTML(body []byte, ct contenttype.ContentType, opts Options) []byte {
	enc, _ := charset.Detect(ct.String(), body)
	decoded, err := charset.Decode(body, enc)
	if err != nil {
		return body
	}

	rewritten, err := htmlrewrite.Rewrite([]byte(decoded), htmlrewrite.Context{
		Upstream:  opts.Upstream,
		ProxyBase: opts.ProxyBase,
		PathForm:  opts.PathForm,
	})
	if err != nil {
		return body
	}
	return rewritten
}

func rewriteCSS(body []byte, ct contenttype.ContentType, opts Options) []byte {
	enc, _ := charset.Detect(ct.String(), body)
	decoded, err := charset.Decode(body, enc)
	if err != nil {
		return body
	}

	rewritten, err := cssrewrite.Rewrite([]byte(decoded), opts.Upstream, opts.ProxyBase)
	if err != nil {
		return body
	}
	return rewritten
}
