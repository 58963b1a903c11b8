package badger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dmartio/datamart/pkg/index"
	"github.com/dmartio/datamart/pkg/schema"
)

// Search runs a filtered, paginated search over one index.
//
// Matching happens in process over a key-order scan of the index's
// documents. The index stays small enough per space for this to be cheap;
// documents are already the derived, query-optimized projection, not the
// full metadata records.
//
// Semantics:
//   - Free text: the query is lowercased and tokenized; a document matches
//     when every query token appears as a word (or, with a trailing '*', a
//     word prefix) in at least one of its text field values. "*" or empty
//     matches everything.
//   - Filters: a document passes a field filter when its value equals any
//     of the listed values. The tags field instead requires a non-empty
//     intersection between the document's tag array and the filter values.
//   - Sort: by the named field, reversed with a leading '-'; numeric fields
//     compare numerically. Without SortBy, results keep the stable
//     document-id order of the scan.
//
// The returned total counts every match before pagination.
func (p *BadgerProjector) Search(ctx context.Context, req index.SearchRequest) (int, []index.Document, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	indexName := req.Index
	if indexName == "" {
		indexName = index.MetaIndexName
	}

	tokens := queryTokens(req.Search)

	var matches []index.Document
	err := p.db.View(func(txn *badger.Txn) error {
		fields, err := getFields(txn, req.Space, indexName)
		if err != nil {
			return err
		}
		textFields := textFieldSet(fields)

		return p.scanDocuments(txn, req.Space, indexName, func(doc index.Document) error {
			if !matchesFilters(doc, req.Filters) {
				return nil
			}
			if !matchesTokens(doc, tokens, textFields) {
				return nil
			}
			matches = append(matches, doc)
			return nil
		})
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to search index %s:%s: %w", req.Space, indexName, err)
	}

	if req.SortBy != "" {
		sortDocuments(matches, req.SortBy)
	}

	total := len(matches)
	page := paginate(matches, req.Offset, req.Limit)
	return total, page, nil
}

// queryTokens lowercases and tokenizes the free-text query. Returns nil for
// the match-all queries "" and "*".
func queryTokens(search string) []string {
	search = strings.TrimSpace(search)
	if search == "" || search == "*" {
		return nil
	}
	return strings.FieldsFunc(strings.ToLower(search), func(r rune) bool {
		return !isWordRune(r) && r != '*'
	})
}

// textFieldSet returns the names of the index's text fields. With no stored
// definition (meta index before an explicit create), every string-valued
// field is searchable.
func textFieldSet(fields []schema.Field) map[string]bool {
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Type == schema.FieldText {
			set[f.Name] = true
		}
	}
	return set
}

// matchesTokens reports whether every query token matches some word in the
// document's text fields.
func matchesTokens(doc index.Document, tokens []string, textFields map[string]bool) bool {
	if len(tokens) == 0 {
		return true
	}

	var words []string
	for name, value := range doc.Fields {
		if textFields != nil && !textFields[name] {
			continue
		}
		switch v := value.(type) {
		case string:
			words = append(words, fieldWords(v)...)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					words = append(words, fieldWords(s)...)
				}
			}
		case []string:
			for _, s := range v {
				words = append(words, fieldWords(s)...)
			}
		}
	}

	for _, token := range tokens {
		if !matchToken(words, token) {
			return false
		}
	}
	return true
}

func matchToken(words []string, token string) bool {
	prefix := strings.HasSuffix(token, "*")
	token = strings.TrimSuffix(token, "*")
	for _, word := range words {
		if word == token || (prefix && strings.HasPrefix(word, token)) {
			return true
		}
	}
	return false
}

func fieldWords(value string) []string {
	return strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !isWordRune(r)
	})
}

func isWordRune(r rune) bool {
	return r == '_' || r == '-' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r > 127
}

// matchesFilters applies the exact-value filters. The tags field uses
// set-intersection; every other field is OR-of-equals.
func matchesFilters(doc index.Document, filters map[string][]string) bool {
	for name, accepted := range filters {
		if len(accepted) == 0 {
			continue
		}
		if name == index.TagsField {
			if !tagsIntersect(doc.Fields[index.TagsField], accepted) {
				return false
			}
			continue
		}
		if !valueAccepted(doc.Fields[name], accepted) {
			return false
		}
	}
	return true
}

func tagsIntersect(value any, accepted []string) bool {
	var tags []string
	switch v := value.(type) {
	case []string:
		tags = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
	default:
		return false
	}
	for _, want := range accepted {
		for _, tag := range tags {
			if tag == want {
				return true
			}
		}
	}
	return false
}

func valueAccepted(value any, accepted []string) bool {
	str, ok := fieldString(value)
	if !ok {
		return false
	}
	for _, want := range accepted {
		if str == want {
			return true
		}
	}
	return false
}

// fieldString renders a scalar field value for exact comparison. JSON
// round-tripping turns numbers into float64; integers are rendered without
// a fractional part so "42" matches.
func fieldString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// sortDocuments orders matches by the named field. Documents missing the
// field sort last regardless of direction.
func sortDocuments(docs []index.Document, sortBy string) {
	descending := strings.HasPrefix(sortBy, "-")
	field := strings.TrimPrefix(sortBy, "-")

	sort.SliceStable(docs, func(i, j int) bool {
		av, aok := docs[i].Fields[field]
		bv, bok := docs[j].Fields[field]
		if !aok || !bok {
			return aok && !bok
		}
		cmp := compareValues(av, bv)
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b any) int {
	if an, aIsNum := a.(float64); aIsNum {
		if bn, bIsNum := b.(float64); bIsNum {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	as, _ := fieldString(a)
	bs, _ := fieldString(b)
	return strings.Compare(as, bs)
}

// paginate applies the offset/limit window. A limit of zero or less means
// no limit.
func paginate(docs []index.Document, offset, limit int) []index.Document {
	if offset >= len(docs) {
		return nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
