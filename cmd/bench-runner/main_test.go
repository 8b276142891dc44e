package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nazeru/market-ledger-go/internal/market/apiclient"
)

func TestPercentiles(t *testing.T) {
	vals := []float64{9, 1, 5, 3, 7, 2, 8, 4, 6, 10}
	p50, p90, p95, p99 := calcPercentiles(vals)
	assert.Equal(t, 5.0, p50)
	assert.Equal(t, 9.0, p90)
	assert.Equal(t, 10.0, p95)
	assert.Equal(t, 10.0, p99)

	p50, _, _, _ = calcPercentiles(nil)
	assert.Zero(t, p50)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		class  string
	}{
		{nil, http.StatusOK, ""},
		{errors.New("connection refused"), 0, "transport"},
		{&apiclient.APIError{Status: 507, Code: "storage_full"}, 507, "http_5xx"},
		{&apiclient.APIError{Status: 409, Code: "empty_cart"}, 409, "business_rejected"},
		{&apiclient.APIError{Status: 400, Code: "bad_request"}, 400, "http_4xx"},
	}
	for _, tc := range cases {
		status, class := classifyError(tc.err)
		assert.Equal(t, tc.status, status)
		assert.Equal(t, tc.class, class)
	}
}

func TestBuildOperations(t *testing.T) {
	ops, _, err := buildOperations("physical")
	assert.NoError(t, err)
	assert.Len(t, ops, 4)

	_, _, err = buildOperations("tcc")
	assert.Error(t, err)
}
