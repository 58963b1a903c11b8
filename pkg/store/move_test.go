package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
)

func TestMove_TargetMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))

	err := s.Move(ctx, "catalog", "cars", "bmw", "", "", entity)
	assert.True(t, api.IsKind(err, api.ErrMoveTargetMissing))
}

func TestMove_RenameWithCompanion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))
	require.NoError(t, s.SavePayload(ctx, "catalog", "cars", entity, "specs.md",
		newReader("# BMW specs")))

	require.NoError(t, s.Move(ctx, "catalog", "cars", "bmw", "", "bmw_m3", entity))

	// Metadata directory and companion both carry the new shortname.
	requireAbsent(t, filepath.Join(s.paths.Root, "catalog", "cars", markerDir, "bmw"))
	requireAbsent(t, filepath.Join(s.paths.Root, "catalog", "cars", "bmw.md"))
	requireExists(t, filepath.Join(s.paths.Root, "catalog", "cars", "bmw_m3.md"))

	loaded, err := s.Load(ctx, "catalog", "cars", "bmw_m3", core.TypeContent)
	require.NoError(t, err)
	assert.Equal(t, "bmw_m3", loaded.Base().Shortname)
	assert.Equal(t, "bmw_m3.md", loaded.Base().Payload.Body)

	_, err = s.Load(ctx, "catalog", "cars", "bmw", core.TypeContent)
	assert.True(t, api.IsKind(err, api.ErrNotFound))

	// The index follows: the old address is gone, the new one resolves.
	resp, err := s.Serve(ctx, api.Query{
		Type:               api.QuerySearch,
		SpaceName:          "catalog",
		ResourceShortnames: []string{"bmw_m3"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "cars", resp.Records[0].Subpath)
}

func TestMove_AcrossSubpaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("vw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))
	require.NoError(t, s.SavePayload(ctx, "catalog", "cars", entity, "notes.txt",
		newReader("golf")))

	require.NoError(t, s.Move(ctx, "catalog", "cars", "vw", "archive", "", entity))

	requireAbsent(t, filepath.Join(s.paths.Root, "catalog", "cars", "vw.txt"))
	requireExists(t, filepath.Join(s.paths.Root, "catalog", "archive", "vw.txt"))

	loaded, err := s.Load(ctx, "catalog", "archive", "vw", core.TypeContent)
	require.NoError(t, err)
	assert.Equal(t, "vw.txt", loaded.Base().Payload.Body)

	_, err = s.Load(ctx, "catalog", "cars", "vw", core.TypeContent)
	assert.True(t, api.IsKind(err, api.ErrNotFound))
}

func TestMove_DestinationOccupied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw")))
	entity := newContent("audi")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))

	err := s.Move(ctx, "catalog", "cars", "audi", "", "bmw", entity)
	assert.True(t, api.IsKind(err, api.ErrAlreadyExists))

	// Nothing moved.
	_, err = s.Load(ctx, "catalog", "cars", "audi", core.TypeContent)
	require.NoError(t, err)
}

func TestMove_SourceMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	err := s.Move(ctx, "catalog", "cars", "ghost", "", "ghost2", newContent("ghost"))
	assert.True(t, api.IsKind(err, api.ErrNotFound))
}

func TestMove_MediaAttachment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw")))
	photo := &core.Media{Meta: core.NewMeta("photo", "dmart")}
	require.NoError(t, s.Create(ctx, "catalog", "cars/bmw", photo))
	require.NoError(t, s.SavePayload(ctx, "catalog", "cars/bmw", photo, "front.png",
		newReader("\x89PNG")))

	require.NoError(t, s.Move(ctx, "catalog", "cars/bmw", "photo", "", "rear", photo))

	attachDir := filepath.Join(s.paths.Root, "catalog", "cars", markerDir, "bmw", "attachments.media")
	requireAbsent(t, filepath.Join(attachDir, "meta.photo.json"))
	requireAbsent(t, filepath.Join(attachDir, "photo.png"))
	requireExists(t, filepath.Join(attachDir, "meta.rear.json"))
	requireExists(t, filepath.Join(attachDir, "rear.png"))

	loaded, err := s.Load(ctx, "catalog", "cars/bmw", "rear", core.TypeMedia)
	require.NoError(t, err)
	assert.Equal(t, "rear.png", loaded.Base().Payload.Body)
}

func TestMove_AttachmentSharingMetaStem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	// Renaming a media attachment named "meta" must rename only its own
	// companion, not the sibling metadata records sharing the "meta" stem.
	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw")))
	photo := &core.Media{Meta: core.NewMeta("photo", "dmart")}
	require.NoError(t, s.Create(ctx, "catalog", "cars/bmw", photo))
	require.NoError(t, s.SavePayload(ctx, "catalog", "cars/bmw", photo, "front.png",
		newReader("\x89PNG")))

	stray := &core.Media{Meta: core.NewMeta("meta", "dmart")}
	require.NoError(t, s.Create(ctx, "catalog", "cars/bmw", stray))
	require.NoError(t, s.SavePayload(ctx, "catalog", "cars/bmw", stray, "badge.png",
		newReader("\x89PNG")))

	require.NoError(t, s.Move(ctx, "catalog", "cars/bmw", "meta", "", "badge", stray))

	attachDir := filepath.Join(s.paths.Root, "catalog", "cars", markerDir, "bmw", "attachments.media")
	requireExists(t, filepath.Join(attachDir, "meta.badge.json"))
	requireExists(t, filepath.Join(attachDir, "badge.png"))
	requireAbsent(t, filepath.Join(attachDir, "meta.png"))

	// The sibling is untouched, record and companion both.
	requireExists(t, filepath.Join(attachDir, "meta.photo.json"))
	requireExists(t, filepath.Join(attachDir, "photo.png"))

	loaded, err := s.Load(ctx, "catalog", "cars/bmw", "photo", core.TypeMedia)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", loaded.Base().Payload.Body)
}

func TestMove_Folder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	folder := &core.Folder{Meta: core.NewMeta("cars", "dmart")}
	require.NoError(t, s.Create(ctx, "catalog", "/", folder))
	require.NoError(t, s.Create(ctx, "catalog", "cars", newContent("bmw")))

	require.NoError(t, s.Move(ctx, "catalog", "/", "cars", "", "vehicles", folder))

	// The whole directory travels, children included.
	requireAbsent(t, filepath.Join(s.paths.Root, "catalog", "cars"))
	loaded, err := s.Load(ctx, "catalog", "/", "vehicles", core.TypeFolder)
	require.NoError(t, err)
	assert.Equal(t, "vehicles", loaded.Base().Shortname)

	_, err = s.Load(ctx, "catalog", "vehicles", "bmw", core.TypeContent)
	require.NoError(t, err)
}
