package urlcodec

import (
	"net/url"
	"testing"
)

type EncodeTestCase struct {
	Input          string
	ProxyBase      string
	ExpectedOutput string
}

var encodeTestData = []EncodeTestCase{
	{
		"https://example.com/",
		"http://p",
		"http://p/proxy/https/example.com/",
	},
	{
		"https://example.com/a",
		"http://p",
		"http://p/proxy/https/example.com/a",
	},
	{
		"https://example.com/page?q=1%202",
		"http://p",
		"http://p/proxy/https/example.com/page?q=1%202",
	},
	{
		"https://example.com/a%20b/c",
		"http://p",
		"http://p/proxy/https/example.com/a%20b/c",
	},
	{
		"",
		"http://p",
		"",
	},
	{
		"#",
		"http://p",
		"#",
	},
	{
		"javascript:void(0)",
		"http://p",
		"javascript:void(0)",
	},
	{
		"data:image/png;base64,AAAA",
		"http://p",
		"data:image/png;base64,AAAA",
	},
	{
		"mailto:a@b.com",
		"http://p",
		"mailto:a@b.com",
	},
	{
		"//cdn.example.com/x.js",
		"http://p",
		"http://p/proxy/https/cdn.example.com/x.js",
	},
	{
		"not a url at all::::",
		"http://p",
		"not a url at all::::",
	},
}

func TestEncode(t *testing.T) {
	for _, tc := range encodeTestData {
		out := Encode(tc.Input, tc.ProxyBase)
		if out != tc.ExpectedOutput {
			t.Errorf("Encode(%q, %q) = %q, want %q", tc.Input, tc.ProxyBase, out, tc.ExpectedOutput)
		}
	}
}

func TestParsePathForm(t *testing.T) {
	scheme, authority, rest, ok := ParsePathForm("/proxy/https/example.com/page")
	if !ok || scheme != "https" || authority != "example.com" || rest != "/page" {
		t.Errorf("unexpected parse: %q %q %q %v", scheme, authority, rest, ok)
	}

	scheme, authority, rest, ok = ParsePathForm("/proxy/http/example.com")
	if !ok || scheme != "http" || authority != "example.com" || rest != "/" {
		t.Errorf("unexpected parse for bare authority: %q %q %q %v", scheme, authority, rest, ok)
	}

	if _, _, _, ok := ParsePathForm("/not-proxy/https/example.com"); ok {
		t.Errorf("expected no match for non /proxy/ path")
	}
}

func TestDecodeQueryForm(t *testing.T) {
	raw, ok := DecodeQueryForm("url=" + url.QueryEscape("https://example.com/x?y=1"))
	if !ok || raw != "https://example.com/x?y=1" {
		t.Errorf("unexpected decode: %q %v", raw, ok)
	}

	if _, ok := DecodeQueryForm("other=1"); ok {
		t.Errorf("expected no match when url param is absent")
	}
}

func TestEncodeIdempotent(t *testing.T) {
	first := Encode("https://example.com/a", "http://p")
	second := Encode(first, "http://p")
	if first != second {
		t.Errorf("Encode is not idempotent: first=%q second=%q", first, second)
	}
}

func TestEncodeResolved(t *testing.T) {
	base, _ := url.Parse("https://example.com/dir/page.html")
	out := EncodeResolved("../a.css", base, "http://p")
	want := "http://p/proxy/https/example.com/a.css"
	if out != want {
		t.Errorf("EncodeResolved(../a.css) = %q, want %q", out, want)
	}

	if out := EncodeResolved("javascript:void(0)", base, "http://p"); out != "javascript:void(0)" {
		t.Errorf("EncodeResolved should pass through javascript: unchanged, got %q", out)
	}
}
