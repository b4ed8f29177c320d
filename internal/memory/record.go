package memory

import (
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Separator joins the fields of a durable line record. It is not escaped:
// content containing it cannot be reloaded faithfully.
const Separator = "|"

// EncodeLine renders item as "content|categoryOrdinal|timestamp\n".
func EncodeLine(item Item) string {
	var sb strings.Builder
	sb.Grow(len(item.Content) + len(item.Timestamp) + 4)
	sb.WriteString(item.Content)
	sb.WriteString(Separator)
	sb.WriteString(strconv.Itoa(int(item.Category)))
	sb.WriteString(Separator)
	sb.WriteString(item.Timestamp)
	sb.WriteByte('\n')
	return sb.String()
}

// DecodeLine parses one line record of the given tier. The category and
// timestamp are taken from the last two fields, so content holding the
// separator is folded back into the content field.
func DecodeLine(line string, typ Type) (Item, error) {
	line = strings.TrimRight(line, "\r\n")
	ts := strings.LastIndex(line, Separator)
	if ts < 0 {
		return Item{}, goerr.Wrap(ErrInvalidInput, "malformed record", goerr.V("line", line))
	}
	cat := strings.LastIndex(line[:ts], Separator)
	if cat < 0 {
		return Item{}, goerr.Wrap(ErrInvalidInput, "malformed record", goerr.V("line", line))
	}

	content := line[:cat]
	if content == "" {
		return Item{}, goerr.Wrap(ErrInvalidInput, "record has empty content", goerr.V("line", line))
	}
	ord, err := strconv.Atoi(line[cat+1 : ts])
	if err != nil || !Category(ord).Valid() {
		return Item{}, goerr.Wrap(ErrInvalidInput, "record has invalid category", goerr.V("line", line))
	}
	timestamp := line[ts+1:]
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return Item{}, goerr.Wrap(ErrInvalidInput, "record has invalid timestamp", goerr.V("line", line))
	}

	return Item{
		Content:   content,
		Type:      typ,
		Category:  Category(ord),
		Timestamp: timestamp,
	}, nil
}
