package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
)

// writeSchemaDoc drops a JSON-Schema document into the space's schema
// collection, bypassing the entity layer.
func writeSchemaDoc(t *testing.T, s *Store, space, name, doc string) {
	t.Helper()
	dir := s.paths.SchemaDir(space)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(doc), 0o644))
}

const subaccountSchema = `{
  "type": "object",
  "properties": {
    "city": {"type": "string"},
    "account": {
      "type": "object",
      "properties": {
        "balance": {"type": "number"}
      }
    }
  },
  "required": ["city"]
}`

func TestSavePayload_RequiresMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	err := s.SavePayload(ctx, "catalog", "cars", newContent("ghost"), "specs.md",
		newReader("x"))
	assert.True(t, api.IsKind(err, api.ErrPrecondition))
}

func TestSavePayload_UnsupportedExtension(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))

	err := s.SavePayload(ctx, "catalog", "cars", entity, "tool.exe", newReader("MZ"))
	assert.True(t, api.IsKind(err, api.ErrUnsupportedMediaType))
}

func TestSavePayload_RecordsDescriptor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("bmw")
	require.NoError(t, s.Create(ctx, "catalog", "cars", entity))
	require.NoError(t, s.SavePayload(ctx, "catalog", "cars", entity, "specs.md",
		newReader("# BMW specs")))

	// The companion is stored under the entity's shortname, whatever the
	// upload was called.
	requireExists(t, filepath.Join(s.paths.Root, "catalog", "cars", "bmw.md"))

	loaded, err := s.Load(ctx, "catalog", "cars", "bmw", core.TypeContent)
	require.NoError(t, err)
	p := loaded.Base().Payload
	require.NotNil(t, p)
	assert.Equal(t, core.ContentTypeMarkdown, p.ContentType)
	assert.Equal(t, "bmw.md", p.Body)
	assert.True(t, strings.HasPrefix(p.Checksum, "sha1:"), "checksum %q", p.Checksum)

	rc, err := s.OpenPayload(ctx, "catalog", "cars", loaded)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "# BMW specs", string(body))
}

func TestSavePayloadJSON_SchemaValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")
	writeSchemaDoc(t, s, "catalog", "subaccount", subaccountSchema)

	entity := newContent("acct1")
	entity.Payload = &core.Payload{ContentType: core.ContentTypeJSON, SchemaShortname: "subaccount"}
	require.NoError(t, s.Create(ctx, "catalog", "accounts", entity))

	// A failing value leaves no companion behind.
	err := s.SavePayloadJSON(ctx, "catalog", "accounts", entity,
		map[string]any{"account": map[string]any{"balance": float64(10)}})
	assert.True(t, api.IsKind(err, api.ErrValidation))
	requireAbsent(t, filepath.Join(s.paths.Root, "catalog", "accounts", "acct1.json"))

	require.NoError(t, s.SavePayloadJSON(ctx, "catalog", "accounts", entity,
		map[string]any{"city": "amman", "account": map[string]any{"balance": float64(10)}}))
	requireExists(t, filepath.Join(s.paths.Root, "catalog", "accounts", "acct1.json"))

	loaded, err := s.Load(ctx, "catalog", "accounts", "acct1", core.TypeContent)
	require.NoError(t, err)
	assert.Equal(t, "acct1.json", loaded.Base().Payload.Body)
}

func TestSavePayloadJSON_MissingSchema(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("acct1")
	entity.Payload = &core.Payload{ContentType: core.ContentTypeJSON, SchemaShortname: "nope"}
	require.NoError(t, s.Create(ctx, "catalog", "accounts", entity))

	err := s.SavePayloadJSON(ctx, "catalog", "accounts", entity, map[string]any{"city": "x"})
	assert.True(t, api.IsKind(err, api.ErrNotFound))
}

func TestSavePayloadJSON_ProjectsToSchemaIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")
	writeSchemaDoc(t, s, "catalog", "subaccount", subaccountSchema)

	entity := newContent("acct1")
	entity.Payload = &core.Payload{ContentType: core.ContentTypeJSON, SchemaShortname: "subaccount"}
	require.NoError(t, s.Create(ctx, "catalog", "accounts", entity))
	require.NoError(t, s.SavePayloadJSON(ctx, "catalog", "accounts", entity,
		map[string]any{"city": "amman", "account": map[string]any{"balance": float64(10)}}))

	resp, err := s.Serve(ctx, api.Query{
		Type:       api.QuerySearch,
		SpaceName:  "catalog",
		SchemaName: "subaccount",
		Search:     "amman",
	})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "acct1", resp.Records[0].Shortname)
	assert.Equal(t, "accounts", resp.Records[0].Subpath)
}

func TestQuerySubpath_InlinesJSONPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSpace(t, s, "catalog")

	entity := newContent("acct1")
	require.NoError(t, s.Create(ctx, "catalog", "accounts", entity))
	require.NoError(t, s.SavePayloadJSON(ctx, "catalog", "accounts", entity,
		map[string]any{"city": "amman"}))

	resp, err := s.Serve(ctx, api.Query{
		Type:                api.QuerySubpath,
		SpaceName:           "catalog",
		Subpath:             "accounts",
		RetrieveJSONPayload: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)

	inlined, ok := resp.Records[0].Attributes["payload"].(*core.Payload)
	require.True(t, ok, "expected an inlined payload descriptor")
	assert.Equal(t, map[string]any{"city": "amman"}, inlined.Body)
}
