package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/httpapi"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
)

const catalog = `
sellers:
  - account: alice
    items:
      - title: Lamp
        price: "12.50"
        inventory: 3
      - kind: service
        title: Repair
        price: "40"
        inventory: 10
        zeno_percent: 5
  - account: bob
    items:
      - title: Poster
        digital: true
        digital_url: https://example.com/poster
        price: "0.99"
        inventory: 100
`

func newServer(t *testing.T) string {
	t.Helper()
	l, err := ledger.Open(context.Background(), ledger.Options{Service: "test"})
	require.NoError(t, err)
	srv := httptest.NewServer((&httpapi.Server{Ledger: l, Service: "test"}).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseCatalog(t *testing.T) {
	entries, err := parseCatalog([]byte(catalog), 2)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.AccountID("alice"), entries[0].seller)
	assert.Equal(t, domain.KindProduct, entries[0].input.Kind)
	assert.Equal(t, domain.Amount(1250), entries[0].input.Price)
	assert.Equal(t, domain.KindService, entries[1].input.Kind)
	assert.Equal(t, uint64(5), entries[1].input.ZenoPercent)
	assert.Equal(t, domain.Amount(99), entries[2].input.Price)
	assert.True(t, entries[2].input.Digital)

	_, err = parseCatalog([]byte("sellers:\n  - items: []\n"), 2)
	assert.Error(t, err)
	_, err = parseCatalog([]byte("sellers:\n  - account: a\n    items:\n      - title: x\n        price: \"1.234\"\n"), 2)
	assert.Error(t, err)
}

func TestSeedThenStats(t *testing.T) {
	url := newServer(t)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))

	out, err := execute(t, "seed", "--base-url", url, "--file", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "12.50\tLamp")

	out, err = execute(t, "stats", "--base-url", url)
	require.NoError(t, err, out)
	assert.Contains(t, out, "sellers=2")
	assert.Contains(t, out, "products=2 services=1")
}

func TestRunScenarios(t *testing.T) {
	url := newServer(t)
	for _, name := range []string{"physical", "instant", "refund", "referral"} {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, "run", name, "--base-url", url)
			require.NoError(t, err, out)
			assert.Contains(t, out, name+" OK")
		})
	}
	out, err := execute(t, "run", "physical", "--base-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "delivered, paid 80.00")

	_, err = execute(t, "run", "nope", "--base-url", url)
	assert.Error(t, err)
}

func TestModelNavigation(t *testing.T) {
	m := initialModel(&options{baseURL: "http://x"})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Nil(t, cmd)
	m = next.(model)
	assert.Equal(t, 1, m.selected)

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	assert.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Contains(t, m.View(), "Running instant")

	next, _ = m.Update(scenarioResult{status: "instant OK", detail: "done"})
	m = next.(model)
	assert.False(t, m.busy)
	assert.Contains(t, m.View(), "instant OK: done")
}
