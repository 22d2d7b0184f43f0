// Package server implements the HTTP surface: the informational root
// page, health check, proxy routes, CORS preflight, and the
// request-scoped wiring that ties the resolver, dispatcher, and pipeline
// together into a single fasthttp.RequestHandler. A couple of fixed-path
// shortcuts are checked first, then the general proxy path.
package server

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/warpproxy/warp/dispatcher"
	"github.com/warpproxy/warp/errkind"
	"github.com/warpproxy/warp/logging"
	"github.com/warpproxy/warp/pipeline"
	"github.com/warpproxy/warp/resolver"
)

// Server holds the request-scoped dependencies every handler needs.
type Server struct {
	Client         *fasthttp.Client
	Logger         *logging.Logger
	RequestTimeout time.Duration
	FollowRedirect bool
	PathForm       bool
}

// New builds a Server ready to serve via fasthttp.ListenAndServe.
func New(client *fasthttp.Client, logger *logging.Logger, requestTimeout time.Duration, followRedirect, pathForm bool) *Server {
	return &Server{
		Client:         client,
		Logger:         logger,
		RequestTimeout: requestTimeout,
		FollowRedirect: followRedirect,
		PathForm:       pathForm,
	}
}

// Handler is the fasthttp.RequestHandler entry point.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	requestID := logging.RequestID()
	ctx.Response.Header.Set("X-Request-Id", requestID)
	log := s.Logger.With("request_id", requestID)

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("panic while handling request", "recover", r)
			s.writeError(ctx, errkind.New(errkind.InternalError, nil))
		}
	}()

	path := string(ctx.Path())

	switch path {
	case "/":
		s.serveRoot(ctx)
		return
	case "/health":
		s.serveHealth(ctx)
		return
	case "/robots.txt":
		ctx.SetContentType("text/plain")
		_, _ = ctx.Write([]byte("User-Agent: *\nDisallow: /\n"))
		return
	case "/favicon.ico":
		ctx.SetContentType("image/x-icon")
		ctx.SetStatusCode(204)
		return
	}

	if string(ctx.Method()) == fasthttp.MethodOptions {
		s.serveOptions(ctx)
		return
	}

	s.serveProxy(ctx, log)
}

func (s *Server) serveRoot(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, 200, map[string]string{
		"status":  "ok",
		"message": "warp is a web content sanitizing proxy",
		"usage":   "/proxy?url=<absolute-url> or /proxy/<scheme>/<authority>/<path>",
	})
}

func (s *Server) serveHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, 200, map[string]string{"status": "ok"})
}

func (s *Server) serveOptions(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "*")
	ctx.SetStatusCode(200)
}

func (s *Server) serveProxy(ctx *fasthttp.RequestCtx, log *logging.Logger) {
	target, err := resolver.Resolve(resolver.Request{
		Path:     string(ctx.Path()),
		RawQuery: string(ctx.URI().QueryString()),
		Referer:  string(ctx.Request.Header.Peek("Referer")),
	})
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	log.Debugw("dispatching", "method", string(ctx.Method()), "target", target.String())

	inbound := make(map[string][]string)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		inbound[key] = append(inbound[key], string(v))
	})

	resp, dispatchErr := dispatcher.Do(s.Client, dispatcher.Request{
		Method:         string(ctx.Method()),
		URL:            target,
		Header:         inbound,
		Body:           ctx.PostBody(),
		Timeout:        s.RequestTimeout,
		FollowRedirect: s.FollowRedirect,
	})
	if dispatchErr != nil {
		s.writeError(ctx, dispatchErr)
		return
	}

	result := pipeline.Handle(resp, pipeline.Options{
		Upstream:  resp.FinalURL,
		ProxyBase: proxyBase(ctx),
		PathForm:  s.PathForm,
	})

	ctx.SetStatusCode(result.StatusCode)
	for k, values := range result.Header {
		for _, v := range values {
			ctx.Response.Header.Add(k, v)
		}
	}
	_, _ = ctx.Write(result.Body)
}

// proxyBase derives the proxy's own scheme+host from the incoming
// request, honoring X-Forwarded-Proto/X-Forwarded-Host when a reverse
// proxy sits in front.
func proxyBase(ctx *fasthttp.RequestCtx) string {
	scheme := "http"
	if ctx.IsTLS() {
		scheme = "https"
	}
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-Proto")); forwarded != "" {
		scheme = forwarded
	}

	host := string(ctx.Host())
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-Host")); forwarded != "" {
		host = forwarded
	}

	return scheme + "://" + host
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error) {
	kind := errkind.InternalError
	if perr, ok := err.(*errkind.ProxyError); ok {
		kind = perr.Kind
	}
	writeJSON(ctx, kind.Status(), map[string]string{
		"status": "error",
		"kind":   kind.String(),
		"error":  err.Error(),
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body map[string]string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	encoded, err := json.Marshal(body)
	if err != nil {
		return
	}
	_, _ = ctx.Write(encoded)
}
