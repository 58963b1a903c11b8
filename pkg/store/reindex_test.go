package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
	indexBadger "github.com/dmartio/datamart/pkg/index/badger"
)

// withFreshProjector returns a second storage core over the same tree but
// with an empty index, as after an index volume loss.
func withFreshProjector(t *testing.T, s *Store) *Store {
	t.Helper()
	ctx := context.Background()

	projector, err := indexBadger.NewBadgerProjector(ctx, indexBadger.BadgerProjectorConfig{InMemory: true})
	require.NoError(t, err)

	fresh := New(s.paths.Root, s.payloads, projector, nil)
	t.Cleanup(func() { _ = projector.Close() })
	return fresh
}

func TestReindexSpace_RebuildsFromFilesystem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")
	writeSchemaDoc(t, s, "catalog", "subaccount", subaccountSchema)

	folder := &core.Folder{Meta: core.NewMeta("cars", "dmart")}
	require.NoError(t, s.Create(ctx, "catalog", "/", folder))
	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("audi", "german")))
	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw", "german")))

	note := &core.Comment{Meta: core.NewMeta("note", "reviewer")}
	require.NoError(t, s.Create(ctx, "catalog", "cars/bmw", note))

	acct := newContent("acct1")
	acct.Payload = &core.Payload{ContentType: core.ContentTypeJSON, SchemaShortname: "subaccount"}
	require.NoError(t, s.Create(ctx, "catalog", "accounts", acct))
	require.NoError(t, s.SavePayloadJSON(ctx, "catalog", "accounts", acct,
		map[string]any{"city": "amman"}))

	// Rebuild into an empty index and query through it.
	fresh := withFreshProjector(t, s)
	stats, err := fresh.ReindexSpace(ctx, "catalog")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Spaces)
	// Five entities (folder, two contents, comment, account) plus one
	// schema-bound payload document.
	assert.Equal(t, 6, stats.Indexed)
	assert.Equal(t, 0, stats.Skipped)

	resp, err := fresh.Serve(ctx, api.Query{
		Type:      api.QuerySearch,
		SpaceName: "catalog",
		Tags:      []string{"german"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attributes["total"])

	resp, err = fresh.Serve(ctx, api.Query{
		Type:       api.QuerySearch,
		SpaceName:  "catalog",
		SchemaName: "subaccount",
		Search:     "amman",
	})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "acct1", resp.Records[0].Shortname)
}

func TestReindexSpace_SkipsDisabledSpace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "dark")
	require.NoError(t, s.Create(ctx, "dark", "stuff", newContent("hidden")))
	require.NoError(t, s.SetSpaceIndexing(ctx, "dark", false))

	fresh := withFreshProjector(t, s)
	stats, err := fresh.ReindexSpace(ctx, "dark")
	require.NoError(t, err)
	assert.Equal(t, ReindexStats{}, stats)
}

func TestReindexAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")
	mustCreateSpace(t, s, "dark")
	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw")))
	require.NoError(t, s.SetSpaceIndexing(ctx, "dark", false))

	fresh := withFreshProjector(t, s)
	stats, err := fresh.ReindexAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Spaces)
	// The space descriptor is not an entity; only bmw projects.
	assert.Equal(t, 1, stats.Indexed)
}

func TestReindexSpace_CountsUnparseableSchema(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	dir := s.paths.SchemaDir("catalog")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{oops"), 0o644))

	stats, err := s.ReindexSpace(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Indexed)
}
