package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingTransport wraps next with an HTTP cache honouring the
// server's Cache-Control and ETag headers. Poll listings are revalidated
// with If-None-Match rather than refetched. With an empty cacheDir the
// cache lives in memory for the life of the process.
func NewCachingTransport(cacheDir string, next http.RoundTripper) *httpcache.Transport {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		// Use disk-based cache for persistence across restarts
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = next

	return transport
}
