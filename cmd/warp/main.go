// Command warp runs the browsing proxy: it loads configuration, builds
// the outbound client, and serves the HTTP surface via server.Handler.
// CLI flags override whatever config.Load populated from the environment.
package main

import (
	"log"

	"github.com/alecthomas/kong"
	"github.com/valyala/fasthttp"

	"github.com/warpproxy/warp/config"
	"github.com/warpproxy/warp/dispatcher"
	"github.com/warpproxy/warp/logging"
	"github.com/warpproxy/warp/server"
)

var cli struct {
	Listen string `help:"Listen address." placeholder:"ADDR"`
	Debug  bool   `help:"Debug mode."`
	IPV6   bool   `help:"Allow IPv6 upstream connections."`
	// FollowRedirect is a pointer so an unset flag leaves WARP_FOLLOW_REDIRECTS
	// in charge; only an explicit --follow-redirect/--no-follow-redirect
	// overrides it.
	FollowRedirect *bool  `help:"Follow HTTP GET redirects." negatable:""`
	ProxyEnv       bool   `help:"Dial upstream via the proxy configured in HTTP_PROXY/HTTPS_PROXY."`
	Proxy          string `help:"Dial upstream via the given HTTP proxy ('[user:pass@]host:port')." placeholder:"ADDR"`
	Socks5         string `help:"Dial upstream via the given SOCKS5 proxy ('host:port')." placeholder:"ADDR"`
	PathForm       bool   `help:"Emit path-form proxy-local URLs and inject a matching <base> tag." default:"true" negatable:""`
}

func main() {
	kong.Parse(&cli,
		kong.Name("warp"),
		kong.Description("A web content sanitizing and rewriting proxy."),
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if cli.Listen != "" {
		cfg.ListenAddress = cli.Listen
	}
	if cli.Debug {
		cfg.Debug = true
	}
	if cli.IPV6 {
		cfg.IPV6 = true
	}
	if cli.FollowRedirect != nil {
		cfg.FollowRedirect = *cli.FollowRedirect
	}
	if cli.ProxyEnv {
		cfg.ProxyEnv = true
	}
	if cli.Proxy != "" {
		cfg.Proxy = cli.Proxy
	}
	if cli.Socks5 != "" {
		cfg.Socks5 = cli.Socks5
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	client := dispatcher.NewClient(dispatcher.Options{
		IPV6:     cfg.IPV6,
		ProxyEnv: cfg.ProxyEnv,
		Proxy:    cfg.Proxy,
		Socks5:   cfg.Socks5,
		Timeout:  cfg.RequestTimeout,
	})

	srv := server.New(client, logger, cfg.RequestTimeout, cfg.FollowRedirect, cli.PathForm)

	logger.Infow("listening", "address", cfg.ListenAddress)
	if err := fasthttp.ListenAndServe(cfg.ListenAddress, srv.Handler); err != nil {
		logger.Fatalw("server exited", "error", err)
	}
}
