// Package dispatcher performs the outbound fetch to the upstream origin:
// header construction, body forwarding, redirect following, timeout
// enforcement, and inline decompression.
package dispatcher

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"

	"github.com/warpproxy/warp/errkind"
)

const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0"

// MaxRedirects bounds automatic GET redirect following.
const MaxRedirects = 5

// Options configures how the client dials the upstream.
type Options struct {
	IPV6     bool
	ProxyEnv bool
	Proxy    string
	Socks5   string
	Timeout  time.Duration
}

// NewClient builds the fasthttp.Client used for every outbound fetch,
// choosing a dialer in priority order: proxy env vars, then an explicit
// HTTP proxy, then SOCKS5, then dual-stack IPv6, then plain IPv4.
func NewClient(opts Options) *fasthttp.Client {
	client := &fasthttp.Client{
		MaxResponseBodySize: 32 * 1024 * 1024,
		ReadBufferSize:      16 * 1024,
	}
	switch {
	case opts.ProxyEnv:
		client.Dial = fasthttpproxy.FasthttpProxyHTTPDialer()
	case opts.Proxy != "":
		client.Dial = fasthttpproxy.FasthttpHTTPDialer(opts.Proxy)
	case opts.Socks5 != "":
		client.Dial = fasthttpproxy.FasthttpSocksDialer(opts.Socks5)
	case opts.IPV6:
		client.Dial = fasthttp.DialDualStack
	default:
		client.Dial = fasthttp.Dial
	}
	return client
}

// Request is everything the dispatcher needs to perform one outbound
// fetch (and any GET redirects it follows internally).
type Request struct {
	Method  string
	URL     *url.URL
	Header  map[string][]string
	Body    []byte
	Timeout time.Duration
	// FollowRedirect enables internal GET redirect following. Non-GET
	// methods never auto-follow; the caller instead sees the redirect
	// response with its Location header intact and proxifies it itself.
	FollowRedirect bool
}

// Response is the upstream's answer, already decompressed and with the
// effective (post-redirect) URL recorded as the new rewrite base.
type Response struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
	FinalURL   *url.URL
}

// Do performs the outbound fetch, following up to MaxRedirects GET
// redirects when req.FollowRedirect is set.
func Do(client *fasthttp.Client, req Request) (*Response, error) {
	return do(client, req, 0)
}

func do(client *fasthttp.Client, req Request, redirectCount int) (*Response, error) {
	freq := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(freq)
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(req.URL.String())
	freq.Header.SetMethod(req.Method)
	freq.SetConnectionClose()

	applyOutboundHeaders(freq, req.URL, req.Header)

	if len(req.Body) > 0 && (req.Method == fasthttp.MethodPost || req.Method == fasthttp.MethodPut || req.Method == fasthttp.MethodPatch) {
		// Every body encoding (json/form/multipart/other) resolves to the
		// same action here: forward the client's own Content-Type verbatim
		// alongside the untouched body bytes. This proxy never parses or
		// re-serializes the body, so preserving the original bytes and
		// boundary is sufficient in every case.
		freq.SetBody(req.Body)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	err := client.DoTimeout(freq, fresp, timeout)
	if err != nil {
		return nil, classifyError(err)
	}

	status := fresp.StatusCode()
	if isRedirect(status) && req.FollowRedirect && req.Method == fasthttp.MethodGet {
		location := fresp.Header.Peek("Location")
		if len(location) > 0 && redirectCount < MaxRedirects {
			nextURL, parseErr := req.URL.Parse(string(location))
			if parseErr == nil {
				nextReq := req
				nextReq.URL = nextURL
				return do(client, nextReq, redirectCount+1)
			}
		}
	}

	header := make(map[string][]string)
	fresp.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		header[key] = append(header[key], string(v))
	})

	body, err := decompress(fresp.Body(), header)
	if err != nil {
		return nil, errkind.New(errkind.UpstreamTransport, err)
	}

	return &Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		FinalURL:   req.URL,
	}, nil
}

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// applyOutboundHeaders builds the outbound header set: always-set
// defaults, selective forwarding, and the deliberate omission of Host
// and X-Forwarded-*.
func applyOutboundHeaders(freq *fasthttp.Request, target *url.URL, inbound map[string][]string) {
	freq.Header.SetUserAgent(desktopUserAgent)
	freq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	freq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	origin := target.Scheme + "://" + target.Host
	freq.Header.Set("Referer", origin+"/")
	freq.Header.Set("Origin", origin)

	forward := []string{"Accept", "Cookie", "Authorization", "Content-Type"}
	for _, name := range forward {
		if values := headerValues(inbound, name); len(values) > 0 {
			freq.Header.Set(name, values[0])
		}
	}
}

func headerValues(header map[string][]string, name string) []string {
	if header == nil {
		return nil
	}
	for k, v := range header {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// decompress reverses whatever the upstream applied to the body based on
// its Content-Encoding, and strips that header afterward since the body
// is no longer encoded.
func decompress(body []byte, header map[string][]string) ([]byte, error) {
	encoding := strings.ToLower(strings.Join(headerValues(header, "Content-Encoding"), ","))
	delete(header, "Content-Encoding")
	delete(header, "Transfer-Encoding")

	switch {
	case strings.Contains(encoding, "br"):
		reader := brotli.NewReader(bytes.NewReader(body))
		return io.ReadAll(reader)
	case strings.Contains(encoding, "gzip"):
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case strings.Contains(encoding, "deflate"):
		// HTTP "deflate" is the zlib-wrapped stream (RFC 1950), not raw
		// DEFLATE (RFC 1951), despite the name.
		reader, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	default:
		return body, nil
	}
}

// classifyError maps a transport failure onto an error Kind: DNS failure
// -> UpstreamUnreachable, timeout -> UpstreamTimeout, anything else ->
// UpstreamTransport.
func classifyError(err error) *errkind.ProxyError {
	if errors.Is(err, fasthttp.ErrTimeout) {
		return errkind.New(errkind.UpstreamTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errkind.New(errkind.UpstreamUnreachable, err)
	}
	return errkind.New(errkind.UpstreamTransport, err)
}
