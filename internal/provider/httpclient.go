package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// pooledTransport is shared by every provider so chat, health and Whisper
// calls to the same host reuse connections.
var pooledTransport = sync.OnceValue(func() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
})

// SharedHTTPClient returns a client over the pooled transport with an
// overall request timeout (default 120s). Whisper uploads and slow local
// models both fit in it.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout, Transport: pooledTransport()}
}
