package idempotency

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePrefersHeader(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/checkout", nil)
	assert.Equal(t, "body-key", Resolve(r, " body-key "))

	r.Header.Set(Header, "  header-key ")
	assert.Equal(t, "header-key", Key(r))
	assert.Equal(t, "header-key", Resolve(r, "body-key"))
}
