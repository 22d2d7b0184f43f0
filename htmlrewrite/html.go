// Package htmlrewrite parses HTML with golang.org/x/net/html's tokenizer
// and rewrites every URL-bearing attribute so following it re-enters the
// proxy, strips frame-blocking and CSP meta tags, and injects the
// referrer meta, an optional <base>, and the client shim at the front of
// <head>.
package htmlrewrite

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/warpproxy/warp/cssrewrite"
	"github.com/warpproxy/warp/urlcodec"
)

const (
	stateDefault int = iota
	stateInStyle
	stateInNoscript
)

// hrefLikeAttrs maps element tag name to the attribute that carries a
// single URL to rewrite.
var hrefLikeAttrs = map[string]string{
	"a":      "href",
	"link":   "href",
	"img":    "src",
	"source": "src",
	"script": "src",
	"iframe": "src",
	"video":  "src",
	"audio":  "src",
	"form":   "action",
}

// alwaysRewriteAttrs are rewritten on any element that carries them,
// regardless of tag name.
var alwaysRewriteAttrs = map[string]bool{
	"data-src": true,
	"data-url": true,
}

// hostileMetaHTTPEquiv is stripped entirely from the output.
var hostileMetaHTTPEquiv = map[string]bool{
	"content-security-policy": true,
	"x-frame-options":         true,
}

// Context carries the per-request state the rewriter needs: the upstream
// URL being rendered (used to resolve relative references and as the
// <base> target) and the proxy's own scheme+host (embedded into every
// rewritten URL).
type Context struct {
	Upstream  *url.URL
	ProxyBase string
	// PathForm, when true, emits a <base> tag rooted at the path-form
	// encoding of Upstream so scheme-relative paths resolve correctly in
	// the browser. Query-form-only deployments omit it.
	PathForm bool
}

// Rewrite parses and rewrites an HTML document. On any parse or rewrite
// failure it recovers and returns the original bytes unchanged, so the
// outer response always succeeds even when rewriting cannot.
func Rewrite(doc []byte, ctx Context) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = doc, nil
		}
	}()

	var buf bytes.Buffer
	buf.Grow(len(doc) + 2048)

	tokenizer := html.NewTokenizer(bytes.NewReader(doc))
	tokenizer.AllowCDATA(true)

	state := stateDefault
	headOpened := false
	base := ctx.Upstream

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			if tokenizer.Err() != io.EOF {
				return doc, nil
			}
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tagBytes, hasAttrs := tokenizer.TagName()
			tag := string(tagBytes)
			attrs := readAttrs(tokenizer, hasAttrs)

			if tag == "base" {
				if href := attrValue(attrs, "href"); href != "" {
					if resolved, err := urlcodec.Resolve(base, href); err == nil {
						base = resolved
					}
				}
				continue
			}

			if tag == "meta" {
				writeMetaTag(&buf, attrs)
				continue
			}

			writeStartTag(&buf, tag, attrs, base, ctx.ProxyBase, tt == html.SelfClosingTagToken)

			if tt != html.SelfClosingTagToken && tag == "style" {
				state = stateInStyle
			}

			if tag == "head" && !headOpened {
				headOpened = true
				injectHead(&buf, ctx, base)
			}

		case html.EndTagToken:
			tagBytes, _ := tokenizer.TagName()
			tag := string(tagBytes)
			switch tag {
			case "style":
				state = stateDefault
				fmt.Fprintf(&buf, "</%s>", tag)
			case "head":
				if !headOpened {
					headOpened = true
					injectHead(&buf, ctx, base)
				}
				fmt.Fprintf(&buf, "</%s>", tag)
			default:
				fmt.Fprintf(&buf, "</%s>", tag)
			}

		case html.TextToken:
			raw := tokenizer.Raw()
			switch state {
			case stateInStyle:
				rewritten, cssErr := rewriteEmbeddedCSS(raw, base, ctx.ProxyBase)
				if cssErr != nil {
					buf.Write(raw)
				} else {
					buf.Write(rewritten)
				}
			default:
				buf.Write(raw)
			}

		case html.CommentToken:
			// comments are dropped.
		case html.DoctypeToken:
			buf.Write(tokenizer.Raw())
		}
	}

	return buf.Bytes(), nil
}

type attr struct {
	name, value string
}

func readAttrs(tokenizer *html.Tokenizer, hasAttrs bool) []attr {
	if !hasAttrs {
		return nil
	}
	var attrs []attr
	for {
		nameBytes, valueBytes, more := tokenizer.TagAttr()
		attrs = append(attrs, attr{string(nameBytes), string(valueBytes)})
		if !more {
			break
		}
	}
	return attrs
}

func attrValue(attrs []attr, name string) string {
	for _, a := range attrs {
		if a.name == name {
			return a.value
		}
	}
	return ""
}

func writeStartTag(buf *bytes.Buffer, tag string, attrs []attr, base *url.URL, proxyBase string, selfClosing bool) {
	fmt.Fprintf(buf, "<%s", tag)
	for _, a := range attrs {
		writeAttr(buf, tag, a, base, proxyBase)
	}
	if selfClosing {
		buf.WriteString(" />")
	} else {
		buf.WriteString(">")
	}
}

func writeAttr(buf *bytes.Buffer, tag string, a attr, base *url.URL, proxyBase string) {
	if rewriteAttrName(tag, a.name) {
		if a.name == "srcset" {
			fmt.Fprintf(buf, ` %s="%s"`, a.name, html.EscapeString(rewriteSrcset(a.value, base, proxyBase)))
			return
		}
		rewritten := urlcodec.EncodeResolved(a.value, base, proxyBase)
		fmt.Fprintf(buf, ` %s="%s"`, a.name, html.EscapeString(rewritten))
		return
	}
	if a.name == "style" {
		rewritten, err := rewriteEmbeddedCSS([]byte(a.value), base, proxyBase)
		if err != nil {
			rewritten = []byte(a.value)
		}
		fmt.Fprintf(buf, ` %s="%s"`, a.name, html.EscapeString(string(rewritten)))
		return
	}
	fmt.Fprintf(buf, ` %s="%s"`, a.name, html.EscapeString(a.value))
}

func rewriteAttrName(tag, name string) bool {
	if name == "srcset" {
		return true
	}
	if alwaysRewriteAttrs[name] {
		return true
	}
	if want, ok := hrefLikeAttrs[tag]; ok && want == name {
		return true
	}
	return false
}

// rewriteSrcset splits on ",", trims each descriptor, rewrites only the
// leftmost (URL) token of each, and rejoins.
func rewriteSrcset(value string, base *url.URL, proxyBase string) string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) == 0 {
			continue
		}
		fields[0] = urlcodec.EncodeResolved(fields[0], base, proxyBase)
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

func rewriteEmbeddedCSS(raw []byte, base *url.URL, proxyBase string) ([]byte, error) {
	return cssrewrite.Rewrite(raw, base, proxyBase)
}

// writeMetaTag drops CSP/X-Frame-Options/referrer meta tags and passes
// everything else through unchanged.
func writeMetaTag(buf *bytes.Buffer, attrs []attr) {
	httpEquiv := strings.ToLower(attrValue(attrs, "http-equiv"))
	name := strings.ToLower(attrValue(attrs, "name"))

	if hostileMetaHTTPEquiv[httpEquiv] {
		return
	}
	if name == "referrer" {
		return
	}

	buf.WriteString("<meta")
	for _, a := range attrs {
		fmt.Fprintf(buf, ` %s="%s"`, a.name, html.EscapeString(a.value))
	}
	buf.WriteString(">")
}

// injectHead writes the referrer meta, optional <base>, and client shim
// at the front of <head>, so they precede every other element the browser
// parses.
func injectHead(buf *bytes.Buffer, ctx Context, base *url.URL) {
	buf.WriteString(`<meta name="referrer" content="unsafe-url">`)

	if ctx.PathForm && base != nil {
		fmt.Fprintf(
			buf,
			`<base href="%s/proxy/%s/%s/">`,
			strings.TrimRight(ctx.ProxyBase, "/"),
			base.Scheme,
			base.Host,
		)
	}

	shim, err := RenderShim(ShimParams{
		ProxyBase: strings.TrimRight(ctx.ProxyBase, "/"),
		Scheme:    upstreamScheme(base),
		Authority: upstreamAuthority(base),
	})
	if err == nil {
		buf.WriteString(shim)
	}
}

func upstreamScheme(u *url.URL) string {
	if u == nil {
		return "https"
	}
	return u.Scheme
}

func upstreamAuthority(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}
