package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/index"
	"github.com/dmartio/datamart/pkg/schema"
)

func newTestProjector(t *testing.T) *BadgerProjector {
	t.Helper()
	p, err := NewBadgerProjector(context.Background(), BadgerProjectorConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func contentEntity(shortname, displayname string, tags ...string) *core.Content {
	c := &core.Content{Meta: core.NewMeta(shortname, "dmart")}
	c.Displayname = displayname
	c.Tags = tags
	return c
}

func TestIndexMeta_GetDocument(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	entity := contentEntity("bmw", "BMW Series 3", "cars", "sedan")
	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", entity))

	doc, err := p.GetDocument(ctx, "catalog", index.MetaIndexName, "cars", "bmw")
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, "catalog:meta:cars/bmw", doc.ID)
	assert.Equal(t, "bmw", doc.Fields["shortname"])
	assert.Equal(t, "cars", doc.Fields["subpath"])
	assert.Equal(t, "content", doc.Fields["resource_type"])
	assert.Equal(t, entity.UUID.String(), doc.Fields["uuid"])
	assert.NotZero(t, doc.Fields["created_at"])
}

func TestIndexMeta_Overwrite(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	entity := contentEntity("bmw", "BMW")
	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", entity))

	entity.Displayname = "BMW Series 5"
	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", entity))

	total, docs, err := p.Search(ctx, index.SearchRequest{Space: "catalog"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "BMW Series 5", docs[0].Fields["displayname"])
}

func TestSearch_FreeText(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", contentEntity("bmw", "BMW Series 3")))
	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", contentEntity("audi", "Audi A4")))

	total, docs, err := p.Search(ctx, index.SearchRequest{Space: "catalog", Search: "bmw"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "bmw", docs[0].Shortname)

	// Trailing star matches word prefixes.
	total, _, err = p.Search(ctx, index.SearchRequest{Space: "catalog", Search: "ser*"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// Match-all queries.
	for _, q := range []string{"", "*"} {
		total, _, err = p.Search(ctx, index.SearchRequest{Space: "catalog", Search: q})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	}

	// Every token must match.
	total, _, err = p.Search(ctx, index.SearchRequest{Space: "catalog", Search: "bmw audi"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSearch_Filters(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", contentEntity("bmw", "BMW", "sedan", "german")))
	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", contentEntity("audi", "Audi", "german")))
	folder := &core.Folder{Meta: core.NewMeta("cars", "dmart")}
	require.NoError(t, p.IndexMeta(ctx, "catalog", "/", folder))

	total, docs, err := p.Search(ctx, index.SearchRequest{
		Space:   "catalog",
		Filters: map[string][]string{"resource_type": {"content"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, doc := range docs {
		assert.Equal(t, "content", doc.Fields["resource_type"])
	}

	// OR across accepted values.
	total, _, err = p.Search(ctx, index.SearchRequest{
		Space:   "catalog",
		Filters: map[string][]string{"shortname": {"bmw", "cars"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// Tags use set intersection.
	total, docs, err = p.Search(ctx, index.SearchRequest{
		Space:   "catalog",
		Filters: map[string][]string{"tags": {"sedan"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bmw", docs[0].Shortname)

	total, _, err = p.Search(ctx, index.SearchRequest{
		Space:   "catalog",
		Filters: map[string][]string{"tags": {"sedan", "german"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSearch_SortAndPaginate(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	for _, name := range []string{"cherry", "apple", "banana", "date"} {
		require.NoError(t, p.IndexMeta(ctx, "catalog", "fruit", contentEntity(name, name)))
	}

	total, docs, err := p.Search(ctx, index.SearchRequest{
		Space:  "catalog",
		SortBy: "shortname",
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, total, "total counts matches before pagination")
	require.Len(t, docs, 2)
	assert.Equal(t, "banana", docs[0].Shortname)
	assert.Equal(t, "cherry", docs[1].Shortname)

	_, docs, err = p.Search(ctx, index.SearchRequest{Space: "catalog", SortBy: "-shortname", Limit: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "date", docs[0].Shortname)

	// Offset past the end yields an empty page, not an error.
	total, docs, err = p.Search(ctx, index.SearchRequest{Space: "catalog", Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, docs)
}

func TestDelete_Idempotent(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.IndexMeta(ctx, "catalog", "cars", contentEntity("bmw", "BMW")))
	require.NoError(t, p.Delete(ctx, "catalog", index.MetaIndexName, "cars", "bmw"))
	require.NoError(t, p.Delete(ctx, "catalog", index.MetaIndexName, "cars", "bmw"))

	doc, err := p.GetDocument(ctx, "catalog", index.MetaIndexName, "cars", "bmw")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestIndexPayload_SchemaFields(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	fields := []schema.Field{
		{Path: "account", Name: "account", Type: schema.FieldText},
		{Path: "balance", Name: "balance", Type: schema.FieldNumeric},
		{Path: "address.city", Name: "address_city", Type: schema.FieldText},
	}
	require.NoError(t, p.CreateOrReplaceIndex(ctx, "bank", "subaccount", fields))

	body := map[string]any{
		"account": "ACC-100",
		"balance": float64(250),
		"address": map[string]any{"city": "Amman"},
		"ignored": "not declared in the schema",
	}
	require.NoError(t, p.IndexPayload(ctx, "bank", "subaccount", "accounts", "acc100", body))

	doc, err := p.GetDocument(ctx, "bank", "subaccount", "accounts", "acc100")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "ACC-100", doc.Fields["account"])
	assert.Equal(t, float64(250), doc.Fields["balance"])
	assert.Equal(t, "Amman", doc.Fields["address_city"])
	assert.Equal(t, "bank:meta:accounts/acc100", doc.Fields[index.MetaDocIDField])
	assert.NotContains(t, doc.Fields, "ignored")

	// Payload documents search within their own index only.
	total, docs, err := p.Search(ctx, index.SearchRequest{Space: "bank", Index: "subaccount", Search: "amman"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
}

func TestCreateOrReplaceIndex_Purges(t *testing.T) {
	p := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.CreateOrReplaceIndex(ctx, "bank", "subaccount", []schema.Field{
		{Path: "account", Name: "account", Type: schema.FieldText},
	}))
	require.NoError(t, p.IndexPayload(ctx, "bank", "subaccount", "accounts", "acc1", map[string]any{"account": "A"}))

	require.NoError(t, p.CreateOrReplaceIndex(ctx, "bank", "subaccount", []schema.Field{
		{Path: "account", Name: "account", Type: schema.FieldText},
	}))

	total, _, err := p.Search(ctx, index.SearchRequest{Space: "bank", Index: "subaccount"})
	require.NoError(t, err)
	assert.Equal(t, 0, total, "replace drops previously projected documents")

	// Documents of other indexes in the same space survive the purge.
	require.NoError(t, p.IndexMeta(ctx, "bank", "accounts", contentEntity("acc1", "Account 1")))
	require.NoError(t, p.CreateOrReplaceIndex(ctx, "bank", "subaccount", nil))
	total, _, err = p.Search(ctx, index.SearchRequest{Space: "bank"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
