package middleware

import (
	"net/http"
	"strings"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/util"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-csrf-token":        {},
	"x-request-signature": {},
	"x-forwarded-for":     {},
}

// SanitizeHeaders returns a map of header keys to redacted/sanitized values
// for safe logging.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		sanitized := make([]string, 0, len(vals))
		for _, v := range vals {
			sanitized = append(sanitized, util.TruncateForLog(v, 200))
		}
		out[k] = sanitized
	}
	return out
}

// SanitizePath strips control characters and bounds the length of a path
// before it is logged.
func SanitizePath(p string) string {
	return util.TruncateForLog(p, 500)
}
