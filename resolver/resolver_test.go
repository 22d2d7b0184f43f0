package resolver

import "testing"

func TestResolvePathForm(t *testing.T) {
	req := Request{Path: "/proxy/https/example.com/a/b", RawQuery: "q=1"}
	got, err := Resolve(req)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if want := "https://example.com/a/b?q=1"; got.String() != want {
		t.Errorf("Resolve() = %q, want %q", got.String(), want)
	}
}

func TestResolveQueryForm(t *testing.T) {
	req := Request{Path: "/proxy", RawQuery: "url=https%3A%2F%2Fexample.com%2Fpage"}
	got, err := Resolve(req)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if want := "https://example.com/page"; got.String() != want {
		t.Errorf("Resolve() = %q, want %q", got.String(), want)
	}
}

func TestResolveRefererFallbackFromPathForm(t *testing.T) {
	req := Request{
		Path:    "/style.css",
		Referer: "http://p/proxy/https/example.com/dir/page.html",
	}
	got, err := Resolve(req)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if want := "https://example.com/style.css"; got.String() != want {
		t.Errorf("Resolve() = %q, want %q", got.String(), want)
	}
}

func TestResolveRefererFallbackFromQueryForm(t *testing.T) {
	req := Request{
		Path:    "/asset.js",
		Referer: "http://p/proxy?url=https%3A%2F%2Fexample.com%2Fdir%2Fpage.html",
	}
	got, err := Resolve(req)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if want := "https://example.com/asset.js"; got.String() != want {
		t.Errorf("Resolve() = %q, want %q", got.String(), want)
	}
}

func TestResolveMissingTarget(t *testing.T) {
	req := Request{Path: "/"}
	_, err := Resolve(req)
	if err == nil {
		t.Fatalf("Resolve() expected error, got nil")
	}
}

func TestResolveInvalidURL(t *testing.T) {
	req := Request{Path: "/proxy", RawQuery: "url=not-a-url"}
	_, err := Resolve(req)
	if err == nil {
		t.Fatalf("Resolve() expected error, got nil")
	}
}

func TestResolveIgnoresNonProxyReferer(t *testing.T) {
	req := Request{Path: "/somewhere", Referer: "https://unrelated.example/page"}
	_, err := Resolve(req)
	if err == nil {
		t.Fatalf("Resolve() expected error for unrelated referer, got nil")
	}
}
