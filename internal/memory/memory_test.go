package memory_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/m-mizutani/gt"
)

func TestNewItem(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("stamps creation time", func(t *testing.T) {
		item, err := memory.NewItem("ship the release", memory.Mid, memory.Work, now)
		gt.NoError(t, err).Required()
		gt.Value(t, item.Timestamp).Equal("1700000000")
		gt.Value(t, item.Time().Equal(now)).Equal(true)
		gt.Value(t, item.Type).Equal(memory.Mid)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		_, err := memory.NewItem("   ", memory.Short, memory.Other, now)
		gt.Error(t, err).Is(memory.ErrInvalidInput)
	})

	t.Run("rejects unknown tier", func(t *testing.T) {
		_, err := memory.NewItem("x", memory.Type(9), memory.Other, now)
		gt.Error(t, err).Is(memory.ErrInvalidInput)
	})
}

func TestParseTypeAndCategory(t *testing.T) {
	typ, err := memory.ParseType("LONG")
	gt.NoError(t, err).Required()
	gt.Value(t, typ).Equal(memory.Long)

	cat, err := memory.ParseCategory("friendship")
	gt.NoError(t, err).Required()
	gt.Value(t, cat).Equal(memory.Friendship)

	cat, err = memory.ParseCategory("3")
	gt.NoError(t, err).Required()
	gt.Value(t, cat).Equal(memory.Happiness)

	_, err = memory.ParseCategory("hobby")
	gt.Error(t, err).Is(memory.ErrInvalidInput)
}

func TestLineRecord(t *testing.T) {
	item := memory.Item{Content: "met parents for dinner", Type: memory.Long, Category: memory.Family, Timestamp: "1700000123"}

	line := memory.EncodeLine(item)
	gt.Value(t, line).Equal("met parents for dinner|1|1700000123\n")

	got, err := memory.DecodeLine(line, memory.Long)
	gt.NoError(t, err).Required()
	gt.Value(t, got).Equal(item)

	t.Run("separator in content folds into content", func(t *testing.T) {
		got, err := memory.DecodeLine("a|b|4|1700000000", memory.Short)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Content).Equal("a|b")
		gt.Value(t, got.Category).Equal(memory.Other)
	})

	t.Run("malformed lines are rejected", func(t *testing.T) {
		for _, line := range []string{"", "no separators", "x|9|1", "x|1|abc", "|1|1700000000"} {
			_, err := memory.DecodeLine(line, memory.Short)
			gt.Error(t, err).Is(memory.ErrInvalidInput)
		}
	})
}
