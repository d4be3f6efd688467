package pmode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ebms/pkg/mep"
)

func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SoftDelete(ctx, "missing"), ErrNotFound)

	require.NoError(t, s.Put(ctx, Default("b", ProfileAS4v2)))
	require.NoError(t, s.Put(ctx, Default("a", ProfileDomibus)))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ProfileDomibus, got.SecurityProfile)
	assert.False(t, got.CreatedAt.IsZero())
	created := got.CreatedAt

	// values handed out are copies
	got.SecurityProfile = ProfileCustom
	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ProfileDomibus, again.SecurityProfile)

	// replacing keeps the creation time
	repl := Default("a", ProfileEDelivery)
	require.NoError(t, s.Put(ctx, repl))
	again, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ProfileEDelivery, again.SecurityProfile)
	assert.True(t, created.Equal(again.CreatedAt))

	list, err := s.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, s.SoftDelete(ctx, "b"))
	tomb, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)

	list, err = s.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	id, err := s.DefaultID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, s.SetDefaultID(ctx, "a"))
	id, err = s.DefaultID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", id)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmodes.yaml")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	storeContract(t, s)

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := reopened.DefaultID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	all, err := reopened.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].Deleted)
	assert.Equal(t, ProfileEDelivery, all[0].SecurityProfile)
	assert.Equal(t, 4, all[0].PolicyForLeg(1).MaxAttempts())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestOpenFileStore_Document(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmodes.yaml")
	doc := `defaultPModeId: orders
pmodes:
  - id: orders
    mep: http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/oneWay
    binding: push
    leg1:
      address: https://partner.example/as4
      businessInfo:
        service: urn:orders
        action: submit
    receptionAwareness:
      maxRetries: 2
      retryIntervalMillis: 500
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := OpenFileStore(path)
	require.NoError(t, err)

	p, err := s.Get(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, mep.OneWay, p.MEP)
	assert.Equal(t, mep.Push, p.Binding)
	assert.Equal(t, "https://partner.example/as4", p.Leg1.Protocol.Address)
	policy := p.PolicyForLeg(1)
	assert.Equal(t, 3, policy.MaxAttempts())
	assert.Equal(t, 500*time.Millisecond, policy.RetryInterval)
}

func TestOpenFileStore_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	_, err := OpenFileStore(write("bad.yaml", "pmodes: [\n"))
	assert.Error(t, err)

	_, err = OpenFileStore(write("dup.yaml", "pmodes:\n  - id: a\n  - id: a\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = OpenFileStore(write("noid.yaml", "pmodes:\n  - mep: oneWay\n"))
	assert.ErrorContains(t, err, "no id")

	_, err = OpenFileStore(write("mep.yaml", "pmodes:\n  - id: a\n    mep: sideways\n"))
	assert.ErrorContains(t, err, "unknown mep")

	s, err := OpenFileStore(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	all, err := s.List(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStore_RollsBackOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(filepath.Join(dir, "sub", "pmodes.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	err = s.Put(ctx, Default("a", ProfileAS4v2))
	require.Error(t, err, "parent directory does not exist")

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStore(t *testing.T) {
	inner := NewMemoryStore()
	c := NewCachedStore(inner, 0, 0, nil)
	storeContract(t, c)

	ctx := context.Background()
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Greater(t, c.HitRate(), 0.0)

	// writes through the cache evict the entry
	require.NoError(t, c.Put(ctx, Default("a", ProfileCustom)))
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ProfileCustom, got.SecurityProfile)

	require.NoError(t, c.SoftDelete(ctx, "a"))
	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryStore(), nil)

	_, err := r.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Put(ctx, &PMode{ID: "broken"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = r.GetByID(ctx, "broken")
	assert.ErrorIs(t, err, ErrNotFound, "invalid pmodes are not stored")

	res, err := r.Put(ctx, Default("fallback", ProfileAS4v2))
	require.NoError(t, err)
	_, ok := res.Ok()
	assert.True(t, ok)
	_, err = r.Put(ctx, Default("orders", ProfileAS4v2))
	require.NoError(t, err)

	assert.Error(t, r.SetDefaultID(ctx, "missing"))
	require.NoError(t, r.SetDefaultID(ctx, "fallback"))

	p, err := r.Resolve(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", p.ID)

	p, err = r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", p.ID)

	p, err = r.Resolve(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, "fallback", p.ID)

	require.NoError(t, r.Delete(ctx, "orders"))
	_, err = r.GetByID(ctx, "orders")
	assert.ErrorIs(t, err, ErrNotFound)
	p, err = r.Resolve(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "fallback", p.ID, "deleted pmodes resolve to the default")

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, r.Delete(ctx, "fallback"))
	_, err = r.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.SetDefaultID(ctx, ""))
	id, err := r.DefaultID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestResolver_FindByService(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryStore(), nil)

	p := Default("orders", ProfileAS4v2)
	p.Leg1.BusinessInfo = &BusinessInfo{Service: "urn:orders", Action: "submit"}
	_, err := r.Put(ctx, p)
	require.NoError(t, err)

	found, err := r.FindByService(ctx, "urn:orders", "submit")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "orders", found[0].ID)
}
