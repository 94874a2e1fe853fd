package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Zuo-Peng/chatmask/internal/archive"
	"github.com/Zuo-Peng/chatmask/internal/parse"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS conversations (
    id       TEXT PRIMARY KEY,
    seq      INTEGER NOT NULL,
    title    TEXT NOT NULL,
    included INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS messages (
    conv_id TEXT NOT NULL,
    pos     INTEGER NOT NULL,
    role    TEXT NOT NULL,
    content TEXT NOT NULL,
    ts      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (conv_id, pos)
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content=messages,
    content_rowid=rowid,
    tokenize='unicode61'
);

-- triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.rowid, old.content);
END;

CREATE TABLE IF NOT EXISTS rules (
    pattern TEXT PRIMARY KEY,
    seq     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);
`

// schemaVersion is bumped whenever the stored shape of a conversation
// changes; older sessions are discarded and must be ingested again.
const schemaVersion = "1"

var ErrNotFound = errors.New("conversation not found")

type DB struct {
	db *sql.DB
}

func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; WAL lets the CLI and a running server share the file
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrateSchemaVersion(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrateSchemaVersion() error {
	var ver string
	err := d.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&ver)
	if err == nil && ver == schemaVersion {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err := d.Clear(); err != nil {
		return err
	}
	_, err = d.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Raw() *sql.DB {
	return d.db
}

// ReplaceConversations swaps the stored conversations for convs in one
// transaction and records where they came from. Rules are untouched.
func (d *DB) ReplaceConversations(convs []parse.Conversation, src archive.Source, at time.Time) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM conversations"); err != nil {
		return err
	}

	convStmt, err := tx.Prepare("INSERT INTO conversations (id, seq, title, included) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer convStmt.Close()

	msgStmt, err := tx.Prepare("INSERT INTO messages (conv_id, pos, role, content, ts) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer msgStmt.Close()

	for seq, c := range convs {
		if _, err := convStmt.Exec(c.ID, seq, c.Title, c.Included); err != nil {
			return fmt.Errorf("insert conversation %s: %w", c.ID, err)
		}
		for pos, m := range c.Messages {
			if _, err := msgStmt.Exec(c.ID, pos, m.Role, m.Content, string(m.Timestamp)); err != nil {
				return fmt.Errorf("insert message %s/%d: %w", c.ID, pos, err)
			}
		}
	}

	for k, v := range map[string]string{
		"source_name": src.Name,
		"source_size": fmt.Sprint(src.Size),
		"ingested_at": at.UTC().Format(time.RFC3339),
	} {
		if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Conversations loads every stored conversation with its messages, in
// ingestion order.
func (d *DB) Conversations() ([]parse.Conversation, error) {
	rows, err := d.db.Query("SELECT id, title, included FROM conversations ORDER BY seq")
	if err != nil {
		return nil, err
	}
	var convs []parse.Conversation
	byID := make(map[string]int)
	for rows.Next() {
		var c parse.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Included); err != nil {
			rows.Close()
			return nil, err
		}
		byID[c.ID] = len(convs)
		convs = append(convs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := d.db.Query("SELECT conv_id, role, content, ts FROM messages ORDER BY conv_id, pos")
	if err != nil {
		return nil, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var (
			id, ts string
			m      parse.Message
		)
		if err := mrows.Scan(&id, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = parse.TimestampOf([]byte(ts))
		if i, ok := byID[id]; ok {
			convs[i].Messages = append(convs[i].Messages, m)
		}
	}
	return convs, mrows.Err()
}

func (d *DB) SetIncluded(id string, included bool) error {
	res, err := d.db.Exec("UPDATE conversations SET included = ? WHERE id = ?", included, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (d *DB) SetAllIncluded(included bool) error {
	_, err := d.db.Exec("UPDATE conversations SET included = ?", included)
	return err
}

// SaveRules replaces the stored mask rules, keeping the given order. Rules are
// stored as entered so a reload compiles the same matchers.
func (d *DB) SaveRules(patterns []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM rules"); err != nil {
		return err
	}
	for i, p := range patterns {
		if _, err := tx.Exec("INSERT OR IGNORE INTO rules (pattern, seq) VALUES (?, ?)", p, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) Rules() ([]string, error) {
	rows, err := d.db.Query("SELECT pattern FROM rules ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Clear drops conversations, messages and rules.
func (d *DB) Clear() error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM messages",
		"DELETE FROM conversations",
		"DELETE FROM rules",
		"DELETE FROM meta WHERE key != 'schema_version'",
	} {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SourceInfo describes the archive the stored session came from.
type SourceInfo struct {
	Name       string
	Size       string
	IngestedAt string
}

func (d *DB) Source() (SourceInfo, error) {
	rows, err := d.db.Query("SELECT key, value FROM meta WHERE key IN ('source_name', 'source_size', 'ingested_at')")
	if err != nil {
		return SourceInfo{}, err
	}
	defer rows.Close()

	var info SourceInfo
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return info, err
		}
		switch k {
		case "source_name":
			info.Name = v
		case "source_size":
			info.Size = v
		case "ingested_at":
			info.IngestedAt = v
		}
	}
	return info, rows.Err()
}

func (d *DB) ConversationCount() (int, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&n)
	return n, err
}

func (d *DB) MessageCount() (int, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n)
	return n, err
}
