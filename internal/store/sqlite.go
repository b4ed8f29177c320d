package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

// TableNames maps each tier to its append-only table.
var TableNames = map[memory.Type]string{
	memory.Short: "short_memories",
	memory.Mid:   "mid_memories",
	memory.Long:  "long_memories",
}

// SQLiteSink keeps the three tiers in three append-only tables with the same
// columns as the line record.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, goerr.Wrap(err, "create db directory", goerr.V("path", dbPath))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "open database", goerr.V("path", dbPath))
	}

	s := &SQLiteSink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	for _, typ := range memory.Types {
		query := `CREATE TABLE IF NOT EXISTS ` + TableNames[typ] + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			category INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		);`
		if _, err := s.db.Exec(query); err != nil {
			return goerr.Wrap(err, "init schema", goerr.V("table", TableNames[typ]))
		}
	}
	return nil
}

// Append inserts the batch in one transaction.
func (s *SQLiteSink) Append(ctx context.Context, batch []memory.Item) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	grouped := groupByType(batch)
	for _, typ := range memory.Types {
		items := grouped[typ]
		if len(items) == 0 {
			continue
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+TableNames[typ]+` (content, category, timestamp) VALUES (?, ?, ?)`)
		if err != nil {
			return goerr.Wrap(err, "prepare insert", goerr.V("table", TableNames[typ]))
		}
		for _, item := range items {
			if _, err := stmt.ExecContext(ctx, item.Content, int(item.Category), item.Timestamp); err != nil {
				stmt.Close()
				return goerr.Wrap(err, "insert memory", goerr.V("table", TableNames[typ]))
			}
		}
		stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "commit batch")
	}
	return nil
}

func (s *SQLiteSink) Load(ctx context.Context) ([]memory.Item, error) {
	var items []memory.Item
	for _, typ := range memory.Types {
		rows, err := s.db.QueryContext(ctx, `SELECT content, category, timestamp FROM `+TableNames[typ]+` ORDER BY id`)
		if err != nil {
			return nil, goerr.Wrap(err, "query memories", goerr.V("table", TableNames[typ]))
		}
		for rows.Next() {
			var item memory.Item
			var category int
			if err := rows.Scan(&item.Content, &category, &item.Timestamp); err != nil {
				rows.Close()
				return nil, goerr.Wrap(err, "scan memory", goerr.V("table", TableNames[typ]))
			}
			item.Type = typ
			item.Category = memory.Category(category)
			if !item.Category.Valid() {
				item.Category = memory.Other
			}
			items = append(items, item)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, goerr.Wrap(err, "iterate memories", goerr.V("table", TableNames[typ]))
		}
	}
	return items, nil
}

// Count returns the number of rows stored for typ.
func (s *SQLiteSink) Count(ctx context.Context, typ memory.Type) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+TableNames[typ])
	if err := row.Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "count memories", goerr.V("table", TableNames[typ]))
	}
	return n, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
