package htmlrewrite

import (
	"net/url"
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestRewriteLinkAttribute(t *testing.T) {
	upstream := mustParse(t, "https://example.com/")
	doc := []byte(`<html><body><a href="/a">x</a></body></html>`)

	out, err := Rewrite(doc, Context{Upstream: upstream, ProxyBase: "http://p"})
	if err != nil {
		t.Fatalf("Rewrite returned error: %v", err)
	}

	if !strings.Contains(string(out), `<a href="http://p/proxy/https/example.com/a">`) {
		t.Errorf("expected rewritten href, got: %s", out)
	}
}

func TestRewriteInjectsHeadContent(t *testing.T) {
	upstream := mustParse(t, "https://example.com/")
	doc := []byte(`<html><head><title>t</title></head><body></body></html>`)

	out, err := Rewrite(doc, Context{Upstream: upstream, ProxyBase: "http://p"})
	if err != nil {
		t.Fatalf("Rewrite returned error: %v", err)
	}
	str := string(out)

	if !strings.Contains(str, `<meta name="referrer" content="unsafe-url">`) {
		t.Errorf("expected injected referrer meta, got: %s", str)
	}
	if !strings.Contains(str, "<script>") {
		t.Errorf("expected injected client shim, got: %s", str)
	}
	if strings.Index(str, `<meta name="referrer"`) > strings.Index(str, "<title>") {
		t.Errorf("injected meta must precede existing head content")
	}
}

func TestRewriteStripsHostileMetaTags(t *testing.T) {
	upstream := mustParse(t, "https://example.com/")
	doc := []byte(`<html><head><meta http-equiv="Content-Security-Policy" content="default-src 'self'"><meta name="referrer" content="strict-origin"></head><body></body></html>`)

	out, err := Rewrite(doc, Context{Upstream: upstream, ProxyBase: "http://p"})
	if err != nil {
		t.Fatalf("Rewrite returned error: %v", err)
	}
	str := string(out)

	if strings.Contains(str, "Content-Security-Policy") {
		t.Errorf("CSP meta tag must be stripped, got: %s", str)
	}
	if strings.Contains(str, "strict-origin") {
		t.Errorf("original referrer meta must be stripped, got: %s", str)
	}
}

func TestRewriteShortCircuitSchemesUnchanged(t *testing.T) {
	upstream := mustParse(t, "https://example.com/")
	doc := []byte(`<a href="javascript:void(0)">x</a><img srcset="/a 1x, /b 2x">`)

	out, err := Rewrite(doc, Context{Upstream: upstream, ProxyBase: "http://p"})
	if err != nil {
		t.Fatalf("Rewrite returned error: %v", err)
	}
	str := string(out)

	if !strings.Contains(str, `href="javascript:void(0)"`) {
		t.Errorf("javascript: href must be unchanged, got: %s", str)
	}
	if !strings.Contains(str, `srcset="http://p/proxy/https/example.com/a 1x, http://p/proxy/https/example.com/b 2x"`) {
		t.Errorf("srcset must be rewritten per-descriptor, got: %s", str)
	}
}

func TestRewriteInjectsBaseInPathForm(t *testing.T) {
	upstream := mustParse(t, "https://example.com/dir/")
	doc := []byte(`<html><head></head><body></body></html>`)

	out, err := Rewrite(doc, Context{Upstream: upstream, ProxyBase: "http://p", PathForm: true})
	if err != nil {
		t.Fatalf("Rewrite returned error: %v", err)
	}
	str := string(out)

	if !strings.Contains(str, `<base href="http://p/proxy/https/example.com/">`) {
		t.Errorf("expected injected base tag, got: %s", str)
	}
}

func TestRewriteRecoversFromMalformedInput(t *testing.T) {
	upstream := mustParse(t, "https://example.com/")
	doc := []byte("\x00\x01not really html at all <<<>>>")

	out, err := Rewrite(doc, Context{Upstream: upstream, ProxyBase: "http://p"})
	if err != nil {
		t.Fatalf("Rewrite must never return an error, got: %v", err)
	}
	if out == nil {
		t.Errorf("Rewrite must always return output")
	}
}

func TestRewriteIdempotent(t *testing.T) {
	upstream := mustParse(t, "https://example.com/")
	doc := []byte(`<html><body><a href="/a">x</a></body></html>`)

	first, err := Rewrite(doc, Context{Upstream: upstream, ProxyBase: "http://p"})
	if err != nil {
		t.Fatalf("Rewrite returned error: %v", err)
	}
	second, err := Rewrite(first, Context{Upstream: upstream, ProxyBase: "http://p"})
	if err != nil {
		t.Fatalf("second Rewrite returned error: %v", err)
	}

	firstHref := extractHref(t, string(first))
	secondHref := extractHref(t, string(second))
	if firstHref != secondHref {
		t.Errorf("Rewrite is not idempotent: first=%q second=%q", firstHref, secondHref)
	}
}

func extractHref(t *testing.T, doc string) string {
	t.Helper()
	idx := strings.Index(doc, `<a href="`)
	if idx == -1 {
		t.Fatalf("no <a href=...> found in: %s", doc)
	}
	rest := doc[idx+len(`<a href="`):]
	end := strings.Index(rest, `"`)
	if end == -1 {
		t.Fatalf("unterminated href in: %s", doc)
	}
	return rest[:end]
}
