package search_test

import (
	"testing"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/search"
	"github.com/m-mizutani/gt"
)

func TestDocumentID(t *testing.T) {
	gt.Value(t, search.DocumentID("a")).Equal(search.DocumentID("a"))
	gt.Value(t, search.DocumentID("a")).NotEqual(search.DocumentID("b"))
}

func TestMetadataRoundTrip(t *testing.T) {
	item := memory.Item{Content: "c", Type: memory.Long, Category: memory.Happiness, Timestamp: "1700000000"}
	gt.Value(t, search.FromMetadata("c", search.Metadata(item))).Equal(item)

	broken := search.FromMetadata("c", map[string]string{"category": "x"})
	gt.Value(t, broken.Category).Equal(memory.Other)
	gt.Value(t, broken.Type).Equal(memory.Short)
}
