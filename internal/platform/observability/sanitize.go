package observability

import (
	"strings"
	"unicode"
)

// Upper bounds, in runes, for request-derived values copied into logs and span attributes.
const (
	maxRouteRunes     = 180
	maxMethodRunes    = 10
	maxTenantRunes    = 64
	maxAddrRunes      = 64
	maxUserAgentRunes = 256
)

// clip strips control characters, which could otherwise forge log lines, and keeps at most limit runes.
func clip(value string, limit int) string {
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// SanitizeRoute bounds a chi route pattern or raw path.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, maxRouteRunes)
}

// SanitizeMethod bounds an HTTP method.
func SanitizeMethod(method string) string {
	return clip(method, maxMethodRunes)
}

// SanitizeTenantID bounds a tenant id taken from the URL.
func SanitizeTenantID(tenantID string) string {
	return clip(tenantID, maxTenantRunes)
}
