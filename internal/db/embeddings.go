package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EmbeddingContext tags who a memory record belongs to.
type EmbeddingContext string

const (
	ContextUserMemory      EmbeddingContext = "user_memory"
	ContextAssistantMemory EmbeddingContext = "assistant_memory"
	ContextAssistantAction EmbeddingContext = "assistant_action"
)

// EmbeddingEntry is a semantically searchable memory record. Vector is nil
// until an embedding has been computed; nil-vector rows never appear in
// nearest-neighbor candidates. At most one entry may back a given
// (RelatedKind, RelatedID) pair.
type EmbeddingEntry struct {
	ID          int64            `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	Context     EmbeddingContext `json:"context"`
	Content     string           `json:"content"`
	Vector      []float32        `json:"-"`
	RelatedKind string           `json:"related_kind,omitempty"`
	RelatedID   *int64           `json:"related_id,omitempty"`
	Stale       bool             `json:"stale"`
}

const embeddingColumns = "id, created_at, context, content, vector, related_kind, related_id, stale"

// InsertEmbedding stores a new record and returns its ID.
func (d *DB) InsertEmbedding(e *EmbeddingEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := d.conn.Exec(
		"INSERT INTO embeddings (created_at, context, content, vector, related_kind, related_id, stale) VALUES (?, ?, ?, ?, ?, ?, ?)",
		formatTime(e.CreatedAt), string(e.Context), e.Content, vectorArg(e.Vector),
		nullStr(e.RelatedKind), int64Arg(e.RelatedID), boolToInt(e.Stale),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting embedding: %w", err)
	}
	return res.LastInsertId()
}

// GetEmbedding returns the record with the given ID, or ErrNotFound.
func (d *DB) GetEmbedding(id int64) (*EmbeddingEntry, error) {
	row := d.conn.QueryRow("SELECT "+embeddingColumns+" FROM embeddings WHERE id = ?", id)
	e, err := scanEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("embedding %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedding %d: %w", id, err)
	}
	return e, nil
}

// UpdateEmbedding writes content, vector, and staleness back by ID.
func (d *DB) UpdateEmbedding(e *EmbeddingEntry) error {
	res, err := d.conn.Exec(
		"UPDATE embeddings SET content = ?, vector = ?, stale = ? WHERE id = ?",
		e.Content, vectorArg(e.Vector), boolToInt(e.Stale), e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating embedding %d: %w", e.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("embedding %d: %w", e.ID, ErrNotFound)
	}
	return nil
}

// MarkEmbeddingStale flags a record as stale.
func (d *DB) MarkEmbeddingStale(id int64) error {
	res, err := d.conn.Exec("UPDATE embeddings SET stale = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking embedding %d stale: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("embedding %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteEmbedding removes a record by ID.
func (d *DB) DeleteEmbedding(id int64) error {
	res, err := d.conn.Exec("DELETE FROM embeddings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting embedding %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("embedding %d: %w", id, ErrNotFound)
	}
	return nil
}

// FindEmbeddingByRelated is a point lookup by back-reference. Returns
// ErrNotFound when no record backs the pair.
func (d *DB) FindEmbeddingByRelated(kind string, relatedID int64) (*EmbeddingEntry, error) {
	row := d.conn.QueryRow(
		"SELECT "+embeddingColumns+" FROM embeddings WHERE related_kind = ? AND related_id = ?",
		kind, relatedID,
	)
	e, err := scanEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("embedding for %s/%d: %w", kind, relatedID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding embedding for %s/%d: %w", kind, relatedID, err)
	}
	return e, nil
}

// EmbeddingFilter narrows the candidate set for a nearest-neighbor search.
// Zero values mean "no filter". Rows without a vector are always excluded.
type EmbeddingFilter struct {
	Context      EmbeddingContext
	RelatedKind  string
	IncludeStale bool
	After        time.Time
	Before       time.Time
}

// ListEmbeddingCandidates returns all rows matching the filter that carry a
// vector. Ranking happens in the memory store, not here.
func (d *DB) ListEmbeddingCandidates(f EmbeddingFilter) ([]EmbeddingEntry, error) {
	q := "SELECT " + embeddingColumns + " FROM embeddings WHERE vector IS NOT NULL"
	var args []any
	if f.Context != "" {
		q += " AND context = ?"
		args = append(args, string(f.Context))
	}
	if f.RelatedKind != "" {
		q += " AND related_kind = ?"
		args = append(args, f.RelatedKind)
	}
	if !f.IncludeStale {
		q += " AND stale = 0"
	}
	if !f.After.IsZero() {
		q += " AND created_at > ?"
		args = append(args, formatTime(f.After))
	}
	if !f.Before.IsZero() {
		q += " AND created_at < ?"
		args = append(args, formatTime(f.Before))
	}
	rows, err := d.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing embedding candidates: %w", err)
	}
	defer rows.Close()

	var out []EmbeddingEntry
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEmbedding(row rowScanner) (*EmbeddingEntry, error) {
	var e EmbeddingEntry
	var createdAt, context string
	var vector, relatedKind sql.NullString
	var relatedID sql.NullInt64
	var stale int
	err := row.Scan(&e.ID, &createdAt, &context, &e.Content, &vector, &relatedKind, &relatedID, &stale)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.Context = EmbeddingContext(context)
	e.Stale = stale == 1
	if vector.Valid {
		if err := json.Unmarshal([]byte(vector.String), &e.Vector); err != nil {
			return nil, fmt.Errorf("decoding vector: %w", err)
		}
	}
	if relatedKind.Valid {
		e.RelatedKind = relatedKind.String
	}
	if relatedID.Valid {
		id := relatedID.Int64
		e.RelatedID = &id
	}
	return &e, nil
}

func vectorArg(v []float32) any {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v) // []float32 marshal cannot fail
	return string(b)
}

func int64Arg(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
