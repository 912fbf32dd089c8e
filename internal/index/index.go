// Package index keeps a derived SQLite copy of every tracker document so
// cross-document questions ("what did I log on this day?") do not have to
// parse the whole vault.
//
// The index is disposable. Documents remain the source of truth; [Index.Rebuild]
// recreates it from scratch and change notifications keep it current.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/calvinalkan/habits/internal/habit"
	"github.com/calvinalkan/habits/internal/ledger"
	"github.com/calvinalkan/habits/internal/storage"
	"github.com/calvinalkan/habits/internal/tracker"
	"github.com/calvinalkan/habits/pkg/dates"
)

const schemaVersion = 2

// Source is what the index reads documents from. [tracker.Tracker]
// implements it.
type Source interface {
	List(ctx context.Context, folder storage.ID) ([]storage.ID, error)
	Entries(ctx context.Context, id storage.ID) (ledger.Ledger, error)
	Config(ctx context.Context, id storage.ID) habit.Config
	Stat(ctx context.Context, id storage.ID) (storage.Meta, error)
}

// Document is one indexed tracker.
type Document struct {
	ID   storage.ID
	Mode habit.Mode
	Unit string
	Days int
}

// DayValue is one tracker's value on a given day.
type DayValue struct {
	ID    storage.ID
	Mode  habit.Mode
	Unit  string
	Value ledger.Value
}

// Options configures [Open].
type Options struct {
	// DateFormat is tried before the fallback formats when normalizing
	// ledger keys.
	DateFormat dates.Format
	Logger     *slog.Logger
}

// Index is a SQLite database of documents and their entries.
type Index struct {
	db      *sql.DB
	path    string
	formats []dates.Format
	log     *slog.Logger
}

// Open opens or creates the index at path. A database with an unknown schema
// version is emptied; callers should [Index.Rebuild] when [Index.Fresh]
// reports true and [Index.Refresh] otherwise.
func Open(ctx context.Context, path string, opts Options) (*Index, error) {
	if path == "" {
		return nil, errors.New("open index: path is empty")
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("open index: create directory: %w", err)
	}

	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	idx := &Index{
		db:      db,
		path:    path,
		formats: dates.WithFallbacks(opts.DateFormat),
		log:     opts.Logger,
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open index: %w", err)
	}

	if version != schemaVersion {
		err = idx.inTx(ctx, "create schema", func(tx *sql.Tx) error {
			return createSchema(ctx, tx)
		})
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("open index: %w", err)
		}
	}

	return idx, nil
}

// Path returns the database file.
func (x *Index) Path() string {
	return x.path
}

// Close releases the database handle.
func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}

	err := x.db.Close()
	if err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	return nil
}

// Fresh reports whether the index holds no documents.
func (x *Index) Fresh(ctx context.Context) (bool, error) {
	var n int

	err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count documents: %w", err)
	}

	return n == 0, nil
}

// Rebuild replaces the whole index with the tracker documents src lists
// under the root folder. It returns the number of documents indexed.
func (x *Index) Rebuild(ctx context.Context, src Source) (int, error) {
	ids, err := src.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}

	docs := make([]doc, 0, len(ids))

	for _, id := range ids {
		d, ok, err := x.load(ctx, src, id)
		if err != nil {
			return 0, fmt.Errorf("rebuild index: %w", err)
		}

		if ok {
			docs = append(docs, d)
		}
	}

	err = x.inTx(ctx, "rebuild", func(tx *sql.Tx) error {
		if err := createSchema(ctx, tx); err != nil {
			return err
		}

		for i := range docs {
			if err := x.insert(ctx, tx, &docs[i]); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(docs), nil
}

// Refresh brings an existing index up to date with edits made while nobody
// was following the tracker. Documents whose modification time or size
// differ from the indexed fingerprint are reloaded and documents src no
// longer lists are dropped. It returns the number of documents changed.
func (x *Index) Refresh(ctx context.Context, src Source) (int, error) {
	ids, err := src.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("refresh index: %w", err)
	}

	indexed, err := x.fingerprints(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh index: %w", err)
	}

	changed := 0

	for _, id := range ids {
		fp, known := indexed[id]
		delete(indexed, id)

		meta, err := src.Stat(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return changed, ctxErr
			}

			continue
		}

		if known && fp == fingerprintOf(meta) {
			continue
		}

		d, ok, err := x.load(ctx, src, id)
		if err != nil {
			return changed, fmt.Errorf("refresh index: %w", err)
		}

		if ok {
			err = x.upsert(ctx, &d)
		} else {
			err = x.Delete(ctx, id)
		}

		if err != nil {
			return changed, fmt.Errorf("refresh index: %w", err)
		}

		changed++
	}

	for id := range indexed {
		if err := x.Delete(ctx, id); err != nil {
			return changed, fmt.Errorf("refresh index: %w", err)
		}

		changed++
	}

	return changed, nil
}

// Upsert replaces the rows of one document. Its fingerprint is left unknown,
// so the next [Index.Refresh] reloads it from the source.
func (x *Index) Upsert(ctx context.Context, id storage.ID, cfg habit.Config, l ledger.Ledger) error {
	return x.upsert(ctx, &doc{id: id, cfg: cfg, ledger: l, fp: unknownFingerprint})
}

func (x *Index) upsert(ctx context.Context, d *doc) error {
	return x.inTx(ctx, "upsert "+string(d.id), func(tx *sql.Tx) error {
		if err := deleteDoc(ctx, tx, d.id); err != nil {
			return err
		}

		return x.insert(ctx, tx, d)
	})
}

// Rename moves the rows of oldID to newID. Renaming an unknown document is a
// no-op.
func (x *Index) Rename(ctx context.Context, oldID, newID storage.ID) error {
	return x.inTx(ctx, "rename "+string(oldID), func(tx *sql.Tx) error {
		if err := deleteDoc(ctx, tx, newID); err != nil {
			return err
		}

		for _, stmt := range []string{
			"UPDATE documents SET path = ? WHERE path = ?",
			"UPDATE entries SET path = ? WHERE path = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, string(newID), string(oldID)); err != nil {
				return fmt.Errorf("rename %s to %s: %w", oldID, newID, err)
			}
		}

		return nil
	})
}

// Delete removes one document.
func (x *Index) Delete(ctx context.Context, id storage.ID) error {
	return x.inTx(ctx, "delete "+string(id), func(tx *sql.Tx) error {
		return deleteDoc(ctx, tx, id)
	})
}

// DeleteFolder removes every document under folder.
func (x *Index) DeleteFolder(ctx context.Context, folder storage.ID) error {
	if folder == "" {
		return x.inTx(ctx, "clear", func(tx *sql.Tx) error {
			return createSchema(ctx, tx)
		})
	}

	prefix := escapeLike(string(folder)) + "/%"

	return x.inTx(ctx, "delete folder "+string(folder), func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM entries WHERE path LIKE ? ESCAPE '\'`,
			`DELETE FROM documents WHERE path LIKE ? ESCAPE '\'`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, prefix); err != nil {
				return fmt.Errorf("delete folder %s: %w", folder, err)
			}
		}

		return nil
	})
}

// Trackers lists every indexed document ordered by path.
func (x *Index) Trackers(ctx context.Context) ([]Document, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT d.path, d.mode, d.unit, COUNT(e.date)
		FROM documents d
		LEFT JOIN entries e ON e.path = d.path
		GROUP BY d.path
		ORDER BY d.path`)
	if err != nil {
		return nil, fmt.Errorf("query trackers: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []Document

	for rows.Next() {
		var (
			d    Document
			path string
			mode string
		)

		if err := rows.Scan(&path, &mode, &d.Unit, &d.Days); err != nil {
			return nil, fmt.Errorf("scan tracker: %w", err)
		}

		d.ID = storage.ID(path)
		d.Mode = habit.Mode(mode)
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trackers: %w", err)
	}

	return out, nil
}

// Day returns every tracker's value on day, ordered by path.
func (x *Index) Day(ctx context.Context, day dates.Date) ([]DayValue, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT d.path, d.mode, d.unit, e.value_num, e.value_text
		FROM entries e
		JOIN documents d ON d.path = e.path
		WHERE e.date = ?
		ORDER BY d.path`, day.Key())
	if err != nil {
		return nil, fmt.Errorf("query day %s: %w", day, err)
	}

	defer func() { _ = rows.Close() }()

	var out []DayValue

	for rows.Next() {
		var (
			path string
			mode string
			dv   DayValue
			num  sql.NullFloat64
			text sql.NullString
		)

		if err := rows.Scan(&path, &mode, &dv.Unit, &num, &text); err != nil {
			return nil, fmt.Errorf("scan day value: %w", err)
		}

		dv.ID = storage.ID(path)
		dv.Mode = habit.Mode(mode)

		if num.Valid {
			dv.Value = ledger.Number(num.Float64)
		} else {
			dv.Value = ledger.Text(text.String)
		}

		out = append(out, dv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate day values: %w", err)
	}

	return out, nil
}

// Follow keeps the index in sync with t. Failures are logged; a later
// [Index.Rebuild] repairs any drift.
func (x *Index) Follow(t *tracker.Tracker) {
	t.OnChange(func(c tracker.Change) {
		if err := x.Apply(context.Background(), t, c); err != nil {
			x.log.Warn("index update failed", "change", c.Kind.String(), "doc", c.ID, "err", err)
		}
	})
}

// Apply updates the index for one change, reading current state from src.
func (x *Index) Apply(ctx context.Context, src Source, c tracker.Change) error {
	switch c.Kind {
	case tracker.Created, tracker.Modified:
		d, ok, err := x.load(ctx, src, c.ID)
		if err != nil {
			return err
		}

		if !ok {
			return x.Delete(ctx, c.ID)
		}

		return x.upsert(ctx, &d)
	case tracker.Removed:
		return x.Delete(ctx, c.ID)
	case tracker.Renamed:
		return x.Rename(ctx, c.OldID, c.ID)
	case tracker.FolderChanged:
		return x.refreshFolder(ctx, src, c.ID)
	case tracker.AllChanged:
		_, err := x.Rebuild(ctx, src)

		return err
	}

	return nil
}

func (x *Index) refreshFolder(ctx context.Context, src Source, folder storage.ID) error {
	if err := x.DeleteFolder(ctx, folder); err != nil {
		return err
	}

	ids, err := src.List(ctx, folder)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("list %s: %w", folder, err)
	}

	for _, id := range ids {
		d, ok, err := x.load(ctx, src, id)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		if err := x.upsert(ctx, &d); err != nil {
			return err
		}
	}

	return nil
}

type doc struct {
	id     storage.ID
	cfg    habit.Config
	ledger ledger.Ledger
	fp     fingerprint
}

// fingerprint is what a document looked like on disk when it was indexed.
type fingerprint struct {
	modTime int64
	size    int64
}

// unknownFingerprint never matches a real document.
var unknownFingerprint = fingerprint{size: -1}

func fingerprintOf(m storage.Meta) fingerprint {
	return fingerprint{modTime: m.ModTime.UnixNano(), size: m.Size}
}

func (x *Index) fingerprints(ctx context.Context) (map[storage.ID]fingerprint, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT path, mtime_ns, size FROM documents")
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}

	defer func() { _ = rows.Close() }()

	out := map[storage.ID]fingerprint{}

	for rows.Next() {
		var (
			path string
			fp   fingerprint
		)

		if err := rows.Scan(&path, &fp.modTime, &fp.size); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}

		out[storage.ID(path)] = fp
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}

	return out, nil
}

// load reads one document from src. ok is false when the document is gone
// or is not a tracker. The fingerprint is taken before the content, so an
// edit racing the read leaves a stale fingerprint and is picked up by the
// next [Index.Refresh].
func (x *Index) load(ctx context.Context, src Source, id storage.ID) (doc, bool, error) {
	fp := unknownFingerprint

	meta, err := src.Stat(ctx, id)
	if err == nil {
		fp = fingerprintOf(meta)
	} else if ctxErr := ctx.Err(); ctxErr != nil {
		return doc{}, false, ctxErr
	}

	l, err := src.Entries(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return doc{}, false, ctxErr
		}

		x.log.Debug("not indexing document", "doc", id, "err", err)

		return doc{}, false, nil
	}

	return doc{id: id, cfg: src.Config(ctx, id), ledger: l, fp: fp}, true, nil
}

func (x *Index) insert(ctx context.Context, tx *sql.Tx, d *doc) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO documents (path, mode, unit, mtime_ns, size) VALUES (?, ?, ?, ?, ?)",
		string(d.id), string(d.cfg.Mode), d.cfg.Unit, d.fp.modTime, d.fp.size)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.id, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (path, date, value_num, value_text) VALUES (?, ?, ?, ?)
		ON CONFLICT (path, date) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}

	defer func() { _ = stmt.Close() }()

	// Canonical keys go first so they win over a same-day key written in
	// another format.
	keys := d.ledger.Keys()
	slices.SortStableFunc(keys, func(a, b string) int {
		return cmpBool(isCanonical(b), isCanonical(a))
	})

	for _, key := range keys {
		day, ok := dates.ParseStrict(key, x.formats...)
		if !ok {
			x.log.Debug("skipping unparseable key", "doc", d.id, "key", key)

			continue
		}

		v := d.ledger[key]

		var num, text any
		if v.IsNumber() {
			num = v.Float()
		} else {
			text = v.Str()
		}

		if _, err := stmt.ExecContext(ctx, string(d.id), day.Key(), num, text); err != nil {
			return fmt.Errorf("insert entry %s of %s: %w", key, d.id, err)
		}
	}

	return nil
}

func (x *Index) inTx(ctx context.Context, label string, fn func(tx *sql.Tx) error) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s txn: %w", label, err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s txn: %w", label, err)
	}

	committed = true

	return nil
}

func deleteDoc(ctx context.Context, tx *sql.Tx, id storage.ID) error {
	for _, stmt := range []string{
		"DELETE FROM entries WHERE path = ?",
		"DELETE FROM documents WHERE path = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, string(id)); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}

	return nil
}

func isCanonical(key string) bool {
	day, ok := dates.ParseStrict(key, dates.ISO)

	return ok && day.Key() == key
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))

	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}

		out = append(out, r)
	}

	return string(out)
}
