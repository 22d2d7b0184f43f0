package server

import (
	"testing"

	"github.com/valyala/fasthttp"
)

func TestProxyBaseDefaultsToRequestHost(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetHost("example.test")

	if got, want := proxyBase(&ctx), "http://example.test"; got != want {
		t.Errorf("proxyBase() = %q, want %q", got, want)
	}
}

func TestProxyBaseHonorsForwardedHeaders(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetHost("internal.local")
	ctx.Request.Header.Set("X-Forwarded-Proto", "https")
	ctx.Request.Header.Set("X-Forwarded-Host", "public.example")

	if got, want := proxyBase(&ctx), "https://public.example"; got != want {
		t.Errorf("proxyBase() = %q, want %q", got, want)
	}
}

func TestServeRootReturnsInformationalJSON(t *testing.T) {
	s := &Server{}
	var ctx fasthttp.RequestCtx
	s.serveRoot(&ctx)

	if ctx.Response.StatusCode() != 200 {
		t.Errorf("serveRoot status = %d, want 200", ctx.Response.StatusCode())
	}
	body := string(ctx.Response.Body())
	if body == "" {
		t.Errorf("serveRoot() wrote no body")
	}
}

func TestServeHealthReturnsOK(t *testing.T) {
	s := &Server{}
	var ctx fasthttp.RequestCtx
	s.serveHealth(&ctx)

	if ctx.Response.StatusCode() != 200 {
		t.Errorf("serveHealth status = %d, want 200", ctx.Response.StatusCode())
	}
	if string(ctx.Response.Body()) != `{"status":"ok"}` {
		t.Errorf("serveHealth() body = %s", ctx.Response.Body())
	}
}

func TestServeOptionsSetsPermissiveCORS(t *testing.T) {
	s := &Server{}
	var ctx fasthttp.RequestCtx
	s.serveOptions(&ctx)

	if ctx.Response.StatusCode() != 200 {
		t.Errorf("serveOptions status = %d, want 200", ctx.Response.StatusCode())
	}
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
