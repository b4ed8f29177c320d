package store

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/m-mizutani/goerr/v2"
)

// FileNames maps each tier to its append-only file inside the data dir.
var FileNames = map[memory.Type]string{
	memory.Short: "short.mem",
	memory.Mid:   "mid.mem",
	memory.Long:  "long.mem",
}

// FileSink writes one line record per item to three append-only files.
type FileSink struct {
	dir string
	log *bolt.Logger
	mu  sync.Mutex
}

func NewFileSink(dir string, obs *observe.Observer) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, goerr.Wrap(err, "create data dir", goerr.V("dir", dir))
	}
	return &FileSink{dir: dir, log: observe.OrDiscard(obs).Component("store")}, nil
}

// Path returns the file holding items of typ.
func (f *FileSink) Path(typ memory.Type) string {
	return filepath.Join(f.dir, FileNames[typ])
}

func (f *FileSink) Append(_ context.Context, batch []memory.Item) error {
	grouped := groupByType(batch)

	f.mu.Lock()
	defer f.mu.Unlock()

	persisted := 0
	for _, typ := range memory.Types {
		items := grouped[typ]
		if len(items) == 0 {
			continue
		}
		if err := f.appendFile(f.Path(typ), items); err != nil {
			if persisted > 0 {
				return &PartialWriteError{Persisted: persisted, Err: err}
			}
			return err
		}
		persisted += len(items)
	}
	return nil
}

func (f *FileSink) appendFile(path string, items []memory.Item) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304
	if err != nil {
		return goerr.Wrap(err, "open memory file", goerr.V("path", path))
	}

	w := bufio.NewWriter(file)
	for _, item := range items {
		if _, err := w.WriteString(memory.EncodeLine(item)); err != nil {
			_ = file.Close()
			return goerr.Wrap(err, "write memory file", goerr.V("path", path))
		}
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return goerr.Wrap(err, "write memory file", goerr.V("path", path))
	}
	return file.Close()
}

// Load reads all three files. Malformed lines are skipped and logged.
func (f *FileSink) Load(_ context.Context) ([]memory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var items []memory.Item
	for _, typ := range memory.Types {
		loaded, err := ReadFile(f.Path(typ), typ, f.log)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		items = append(items, loaded...)
	}
	return items, nil
}

// ReadFile parses a line-record file of the given tier. Malformed lines are
// skipped and logged.
func ReadFile(path string, typ memory.Type, log *bolt.Logger) ([]memory.Item, error) {
	file, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, goerr.Wrap(err, "open memory file", goerr.V("path", path))
	}
	defer file.Close()

	var items []memory.Item
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		item, err := memory.DecodeLine(sc.Text(), typ)
		if err != nil {
			if log != nil {
				log.Warn().Err(err).Str("path", path).Int("line", line).Msg("skipping malformed record")
			}
			continue
		}
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, goerr.Wrap(err, "read memory file", goerr.V("path", path))
	}
	return items, nil
}

func (f *FileSink) Close() error { return nil }

func groupByType(batch []memory.Item) map[memory.Type][]memory.Item {
	grouped := make(map[memory.Type][]memory.Item, len(memory.Types))
	for _, item := range batch {
		grouped[item.Type] = append(grouped[item.Type], item)
	}
	return grouped
}
