package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ebms/internal/config"
	"github.com/sirosfoundation/go-ebms/pkg/pmode"
	"github.com/sirosfoundation/go-ebms/pkg/reliability"
)

const pmodeDocument = `defaultPModeId: orders
pmodes:
  - id: orders
    mep: oneWay
    binding: push
    leg1:
      address: https://partner.example/as4
      businessInfo:
        service: urn:orders
        action: submit
    receptionAwareness:
      maxRetries: 2
      retryIntervalMillis: 500
  - id: invoices
    mep: oneWay
    binding: pull
    leg1:
      businessInfo:
        service: urn:invoices
        action: deliver
        mpc: urn:mpc:invoices
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"-env", ""}, args...)
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_Usage(t *testing.T) {
	_, err := execute(t)
	assert.ErrorIs(t, err, errUsage)

	_, err = execute(t, "frobnicate")
	assert.ErrorIs(t, err, errUsage)

	_, err = execute(t, "validate")
	assert.ErrorIs(t, err, errUsage)
}

func TestRun_Validate(t *testing.T) {
	out, err := execute(t, "validate", writeFile(t, "pmodes.yaml", pmodeDocument))
	require.NoError(t, err)
	assert.Contains(t, out, "orders: ok")
	assert.Contains(t, out, "invoices: ok")

	broken := writeFile(t, "broken.yaml", `pmodes:
  - id: broken
    mep: oneWay
    binding: pushAndPush
    leg1:
      address: https://partner.example/as4
`)
	out, err = execute(t, "validate", broken)
	assert.ErrorIs(t, err, errInvalidPModes)
	assert.Contains(t, out, "broken: invalid")
	assert.Contains(t, out, "error")
}

func TestRun_ImportListResolve(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.yaml")
	cfgPath := writeFile(t, "config.yaml", "storage:\n  type: file\n  file:\n    path: "+storePath+"\n  cache:\n    enabled: true\n")

	out, err := execute(t, "-config", cfgPath, "import", writeFile(t, "pmodes.yaml", pmodeDocument))
	require.NoError(t, err)
	assert.Contains(t, out, "imported orders")
	assert.Contains(t, out, "imported invoices")

	out, err = execute(t, "-config", cfgPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "invoices")
	assert.Contains(t, out, "urn:orders")
	assert.Contains(t, out, "pull")

	out, err = execute(t, "-config", cfgPath, "resolve", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "pmode:   orders")
	assert.Contains(t, out, "retries=2 interval=500ms")

	out, err = execute(t, "-config", cfgPath, "resolve", "unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "pmode:   orders", "unknown IDs fall back to the default")
}

func TestRun_ResolveNotFound(t *testing.T) {
	_, err := execute(t, "resolve", "orders")
	assert.ErrorIs(t, err, pmode.ErrNotFound)
}

func TestRun_EnvFile(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.yaml")
	env := writeFile(t, "test.env", "EBMSCTL_TEST_STORE="+storePath+"\n")
	cfgPath := writeFile(t, "config.yaml", "storage:\n  type: file\n  file:\n    path: ${EBMSCTL_TEST_STORE}\n")
	t.Cleanup(func() { os.Unsetenv("EBMSCTL_TEST_STORE") })

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-env", env, "-config", cfgPath, "import", writeFile(t, "pmodes.yaml", pmodeDocument)}, &stdout, &stderr)
	require.NoError(t, err)
	assert.FileExists(t, storePath)

	err = run(context.Background(), []string{"-env", filepath.Join(t.TempDir(), "absent.env"), "list"}, &stdout, &stderr)
	require.NoError(t, err)
}

func TestOpenLedger_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	ledger, cleanup, err := openLedger(config.LedgerConfig{
		Type:     config.LedgerRedis,
		ClaimTTL: time.Minute,
		Redis:    config.RedisConfig{Address: mr.Addr(), KeyPrefix: "test:"},
	})
	require.NoError(t, err)
	defer cleanup()

	ctx := context.Background()
	key := reliability.Key{PartyID: "sender", MessageID: "m1"}
	res, err := ledger.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, reliability.Claimed, res)

	res, err = ledger.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, reliability.Duplicate, res)
	assert.NotEmpty(t, mr.Keys())
}

func TestOpenLedger_Memory(t *testing.T) {
	ledger, cleanup, err := openLedger(config.Default().Ledger)
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &reliability.MemoryLedger{}, ledger)

	_, _, err = openLedger(config.LedgerConfig{Type: "etcd"})
	assert.Error(t, err)
}

func TestHTTPSConfig(t *testing.T) {
	hc, err := httpsConfig(config.TLSConfig{}, false)
	require.NoError(t, err)
	assert.Empty(t, hc.Certificates)
	assert.Nil(t, hc.RootCAs)

	_, err = httpsConfig(config.TLSConfig{CertFile: "absent.crt", KeyFile: "absent.key"}, true)
	assert.ErrorContains(t, err, "loading TLS key pair")

	_, err = httpsConfig(config.TLSConfig{CAFile: writeFile(t, "ca.pem", "not a certificate")}, true)
	assert.ErrorContains(t, err, "no certificates")

	sc, err := serverConfig(config.ServerConfig{Timeout: 5 * time.Second, MaxBodyBytes: 1024})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, sc.Timeout)
	assert.Equal(t, int64(1024), sc.MaxBodySize)
}
