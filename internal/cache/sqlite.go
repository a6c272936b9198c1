package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/teemow/mailmirror/internal/mailbox"
)

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
		CREATE TABLE IF NOT EXISTS folders (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			cursor      TEXT NOT NULL DEFAULT '',
			last_synced TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			folder_id   TEXT NOT NULL,
			from_json   TEXT NOT NULL,
			to_json     TEXT NOT NULL,
			cc_json     TEXT NOT NULL,
			subject     TEXT NOT NULL,
			date        TIMESTAMP NOT NULL,
			is_read     INTEGER NOT NULL,
			is_starred  INTEGER NOT NULL,
			snippet     TEXT NOT NULL DEFAULT '',
			attachments TEXT NOT NULL,
			size        INTEGER NOT NULL,
			synced_at   TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder_id);
		INSERT INTO schema_version (version) VALUES (1);`,
	},
}

// SQLiteSnapshot persists store contents to a SQLite file. Bodies are not
// persisted; they are fetched again on demand.
type SQLiteSnapshot struct {
	db *sqlx.DB
}

// OpenSnapshot opens (or creates) the snapshot database at path and applies
// pending migrations. ":memory:" is accepted for tests.
func OpenSnapshot(path string) (*SQLiteSnapshot, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteSnapshot{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteSnapshot) Close() error {
	return s.db.Close()
}

func (s *SQLiteSnapshot) migrate() error {
	current := 0

	var tables int
	if err := s.db.Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type folderRow struct {
	ID         string     `db:"id"`
	Name       string     `db:"name"`
	Cursor     string     `db:"cursor"`
	LastSynced *time.Time `db:"last_synced"`
}

type messageRow struct {
	ID          string    `db:"id"`
	FolderID    string    `db:"folder_id"`
	FromJSON    string    `db:"from_json"`
	ToJSON      string    `db:"to_json"`
	CcJSON      string    `db:"cc_json"`
	Subject     string    `db:"subject"`
	Date        time.Time `db:"date"`
	IsRead      int       `db:"is_read"`
	IsStarred   int       `db:"is_starred"`
	Snippet     string    `db:"snippet"`
	Attachments string    `db:"attachments"`
	Size        int64     `db:"size"`
	SyncedAt    time.Time `db:"synced_at"`
}

// Save replaces the snapshot with the current store contents in one
// transaction. Messages under a pending mutation are saved as they were
// before it.
func (s *SQLiteSnapshot) Save(ctx context.Context, store *Store, pending []mailbox.PendingMutation) error {
	folders, msgs := store.Dump(pending)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM folders"); err != nil {
		return fmt.Errorf("clearing folders: %w", err)
	}

	for _, f := range folders {
		var last *time.Time
		if !f.LastSynced.IsZero() {
			t := f.LastSynced.UTC()
			last = &t
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO folders (id, name, cursor, last_synced) VALUES (:id, :name, :cursor, :last_synced)`,
			folderRow{ID: f.ID, Name: f.Name, Cursor: string(f.Cursor), LastSynced: last}); err != nil {
			return fmt.Errorf("saving folder %s: %w", f.ID, err)
		}
	}

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT OR REPLACE INTO messages (
			id, folder_id, from_json, to_json, cc_json, subject, date,
			is_read, is_starred, snippet, attachments, size, synced_at
		) VALUES (
			:id, :folder_id, :from_json, :to_json, :cc_json, :subject, :date,
			:is_read, :is_starred, :snippet, :attachments, :size, :synced_at
		)`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		row, err := toRow(m)
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("saving message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// Load restores the snapshot into store, replacing its contents.
func (s *SQLiteSnapshot) Load(ctx context.Context, store *Store) error {
	var frows []folderRow
	if err := s.db.SelectContext(ctx, &frows, "SELECT id, name, cursor, last_synced FROM folders"); err != nil {
		return fmt.Errorf("loading folders: %w", err)
	}
	var mrows []messageRow
	if err := s.db.SelectContext(ctx, &mrows, "SELECT * FROM messages"); err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	folders := make([]mailbox.Folder, 0, len(frows))
	for _, r := range frows {
		f := mailbox.Folder{ID: r.ID, Name: r.Name, Cursor: mailbox.Cursor(r.Cursor)}
		if r.LastSynced != nil {
			f.LastSynced = *r.LastSynced
		}
		folders = append(folders, f)
	}
	msgs := make([]*mailbox.Message, 0, len(mrows))
	for _, r := range mrows {
		m, err := fromRow(r)
		if err != nil {
			return fmt.Errorf("decoding message %s: %w", r.ID, err)
		}
		msgs = append(msgs, m)
	}

	store.Restore(folders, msgs)
	return nil
}

func toRow(m *mailbox.Message) (messageRow, error) {
	from, err := json.Marshal(m.From)
	if err != nil {
		return messageRow{}, err
	}
	to, err := json.Marshal(m.To)
	if err != nil {
		return messageRow{}, err
	}
	cc, err := json.Marshal(m.Cc)
	if err != nil {
		return messageRow{}, err
	}
	atts, err := json.Marshal(m.Attachments)
	if err != nil {
		return messageRow{}, err
	}
	return messageRow{
		ID:          m.ID,
		FolderID:    m.FolderID,
		FromJSON:    string(from),
		ToJSON:      string(to),
		CcJSON:      string(cc),
		Subject:     m.Subject,
		Date:        m.Date.UTC(),
		IsRead:      boolToInt(m.Read),
		IsStarred:   boolToInt(m.Starred),
		Snippet:     m.Snippet,
		Attachments: string(atts),
		Size:        m.Size,
		SyncedAt:    m.SyncedAt.UTC(),
	}, nil
}

func fromRow(r messageRow) (*mailbox.Message, error) {
	m := &mailbox.Message{
		ID:       r.ID,
		FolderID: r.FolderID,
		Subject:  r.Subject,
		Date:     r.Date,
		Read:     r.IsRead != 0,
		Starred:  r.IsStarred != 0,
		Snippet:  r.Snippet,
		Size:     r.Size,
		SyncedAt: r.SyncedAt,
	}
	if err := json.Unmarshal([]byte(r.FromJSON), &m.From); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.ToJSON), &m.To); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.CcJSON), &m.Cc); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Attachments), &m.Attachments); err != nil {
		return nil, err
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
