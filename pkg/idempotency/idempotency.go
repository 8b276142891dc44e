// Package idempotency reads client supplied retry keys.
package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Resolve prefers the header over a key sent in the request body.
func Resolve(r *http.Request, body string) string {
	if k := Key(r); k != "" {
		return k
	}
	return strings.TrimSpace(body)
}
