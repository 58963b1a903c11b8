package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
	indexBadger "github.com/dmartio/datamart/pkg/index/badger"
	payloadFs "github.com/dmartio/datamart/pkg/payload/fs"
)

// newTestStore builds a storage core over a temp directory, with the
// filesystem payload backend rooted at the same spaces root and an
// in-memory index.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	payloads, err := payloadFs.NewFSPayloadStore(ctx, root)
	require.NoError(t, err)
	projector, err := indexBadger.NewBadgerProjector(ctx, indexBadger.BadgerProjectorConfig{InMemory: true})
	require.NoError(t, err)

	s := New(root, payloads, projector, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// mustCreateSpace registers a space descriptor so entities can live in it.
func mustCreateSpace(t *testing.T, s *Store, name string) {
	t.Helper()
	sp := &core.Space{Meta: core.NewMeta(name, "dmart"), IndexingEnabled: true}
	require.NoError(t, s.Create(context.Background(), name, "/", sp))
}

func newContent(shortname string, tags ...string) *core.Content {
	c := &core.Content{Meta: core.NewMeta(shortname, "dmart")}
	c.Tags = tags
	return c
}

func TestCreate_LoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw", "cars")
	entity.Displayname = "BMW"
	entity.Attributes = map[string]any{"doors": float64(4)}
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))

	loaded, err := s.Load(ctx, "catalog", "cars", "bmw", core.TypeContent)
	require.NoError(t, err)

	base := loaded.Base()
	assert.Equal(t, entity.UUID, base.UUID)
	assert.Equal(t, "bmw", base.Shortname)
	assert.Equal(t, "BMW", base.Displayname)
	assert.Equal(t, []string{"cars"}, base.Tags)
	assert.Equal(t, map[string]any{"doors": float64(4)}, base.Attributes)
}

func TestCreate_Uniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw")))

	err := s.Create(ctx, "catalog", "cars", newContent("bmw"))
	assert.True(t, api.IsKind(err, api.ErrAlreadyExists))
}

func TestCreate_MalformedShortname(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Create(ctx, "catalog", "cars", newContent("not a shortname"))
	assert.True(t, api.IsKind(err, api.ErrValidation))
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))
	created := entity.UpdatedAt

	entity.Displayname = "BMW Series 3"
	require.NoError(t, s.Update(ctx, "catalog", "cars", entity))
	assert.True(t, entity.UpdatedAt.After(created) || entity.UpdatedAt.Equal(created))

	loaded, err := s.Load(ctx, "catalog", "cars", "bmw", core.TypeContent)
	require.NoError(t, err)
	assert.Equal(t, "BMW Series 3", loaded.Base().Displayname)

	// Updating an absent entity fails.
	err = s.Update(ctx, "catalog", "cars", newContent("ghost"))
	assert.True(t, api.IsKind(err, api.ErrNotFound))
}

func TestDelete_CleansUp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))
	require.NoError(t, s.SavePayload(ctx, "catalog", "cars", entity, "specs.md",
		newReader("# BMW specs")))

	entityDir := filepath.Join(s.paths.Root, "catalog", "cars", markerDir, "bmw")
	companion := filepath.Join(s.paths.Root, "catalog", "cars", "bmw.md")
	requireExists(t, entityDir)
	requireExists(t, companion)

	require.NoError(t, s.Delete(ctx, "catalog", "cars", entity))

	requireAbsent(t, filepath.Join(entityDir, "meta.content.json"))
	requireAbsent(t, companion)
	requireAbsent(t, entityDir)

	err := s.Delete(ctx, "catalog", "cars", entity)
	assert.True(t, api.IsKind(err, api.ErrNotFound))
}

func TestDelete_AttachmentSharingMetaStem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	// Attachment metadata files all share the stem "meta", so an attachment
	// legally named "meta" must not drag its siblings' records into its
	// companion cleanup.
	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw")))
	note := &core.Comment{Meta: core.NewMeta("note", "reviewer")}
	require.NoError(t, s.Create(ctx, "catalog", "cars/bmw", note))
	stray := &core.Comment{Meta: core.NewMeta("meta", "reviewer")}
	require.NoError(t, s.Create(ctx, "catalog", "cars/bmw", stray))

	require.NoError(t, s.Delete(ctx, "catalog", "cars/bmw", stray))

	attachDir := filepath.Join(s.paths.Root, "catalog", "cars", markerDir, "bmw", "attachments.comment")
	requireAbsent(t, filepath.Join(attachDir, "meta.meta.json"))
	requireExists(t, filepath.Join(attachDir, "meta.note.json"))

	_, err := s.Load(ctx, "catalog", "cars/bmw", "note", core.TypeComment)
	require.NoError(t, err)
}

func TestDelete_KeepsNonEmptyDirectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))

	// A stray file inside the metadata directory must prevent its removal.
	entityDir := filepath.Join(s.paths.Root, "catalog", "cars", markerDir, "bmw")
	require.NoError(t, os.WriteFile(filepath.Join(entityDir, "stray.txt"), []byte("x"), 0o644))

	require.NoError(t, s.Delete(ctx, "catalog", "cars", entity))
	requireExists(t, entityDir)
}

func TestLoad_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "catalog", "cars", "ghost", core.TypeContent)
	assert.True(t, api.IsKind(err, api.ErrNotFound))
}

func TestSetSpaceIndexing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	assert.True(t, s.indexingEnabled(ctx, "catalog"))

	require.NoError(t, s.SetSpaceIndexing(ctx, "catalog", false))
	assert.False(t, s.indexingEnabled(ctx, "catalog"))

	loaded, err := s.Load(ctx, "catalog", "/", "catalog", core.TypeSpace)
	require.NoError(t, err)
	assert.False(t, loaded.(*core.Space).IndexingEnabled)
}

func newReader(s string) *strings.Reader { return strings.NewReader(s) }

func requireExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.NoError(t, err, "expected %s to exist", path)
}

func requireAbsent(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "expected %s to be gone", path)
}
