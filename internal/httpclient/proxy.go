package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

// WithProxy clones base's transport settings but dials through proxyURL,
// which may be socks5://, socks5h://, http://, or https://. An empty
// proxyURL returns base unchanged. Used by the Portal Client when a portal
// configures "proxy" in config.json: per spec §4.A, all calls for that
// portal go through its configured proxy.
func WithProxy(base *http.Client, proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return base, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse proxy url: %w", err)
	}

	baseTransport, _ := base.Transport.(*http.Transport)
	if baseTransport == nil {
		baseTransport = &http.Transport{}
	}
	transport := baseTransport.Clone()

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("httpclient: socks5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("httpclient: socks5 dialer does not support context")
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return contextDialer.DialContext(ctx, network, addr)
		}
	default:
		return nil, fmt.Errorf("httpclient: unsupported proxy scheme %q", u.Scheme)
	}

	return &http.Client{
		Timeout:   base.Timeout,
		Transport: transport,
	}, nil
}
