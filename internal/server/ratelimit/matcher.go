package ratelimit

import (
	"net/http"
	"strings"
)

// MatchEndpoint resolves the limit configuration for a request. Exact
// path+method matches win; a config path ending in "/" matches by
// prefix, which is how the per-run endpoints (/runs/{id}/confirm and
// friends) share one configuration. Health checks are never limited.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == http.MethodGet {
		return &EndpointConfig{} // zero limit, unlimited
	}

	for i := range configs {
		if configs[i].Path == path && configs[i].Method == method {
			return &configs[i]
		}
	}

	for i := range configs {
		if configs[i].Method != method || !strings.HasSuffix(configs[i].Path, "/") {
			continue
		}
		if strings.HasPrefix(path, configs[i].Path) {
			return &configs[i]
		}
	}

	return nil
}
