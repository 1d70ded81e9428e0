package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"hspack/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  originalFileName TEXT NOT NULL,
  fileType TEXT NOT NULL,
  hash TEXT NOT NULL UNIQUE,
  rawRef TEXT NOT NULL,
  extractedText TEXT,
  status TEXT NOT NULL DEFAULT 'uploaded',
  error TEXT,
  receivedAt TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS document_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  documentId INTEGER NOT NULL,
  rawLine TEXT NOT NULL,
  detectedDescription TEXT,
  detectedQuantity INTEGER,
  detectedUnit TEXT,
  lineIndex INTEGER NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(documentId, lineIndex),
  FOREIGN KEY(documentId) REFERENCES documents(id)
);

CREATE TABLE IF NOT EXISTS item_classifications (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  itemId INTEGER NOT NULL UNIQUE,
  aiCategory TEXT,
  aiHsCode TEXT,
  cleanDescription TEXT,
  confidence REAL,
  aiRawResponse TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(itemId) REFERENCES document_items(id)
);

CREATE TABLE IF NOT EXISTS grouped_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  documentId INTEGER NOT NULL,
  hsCode TEXT NOT NULL,
  category TEXT NOT NULL,
  finalDescription TEXT NOT NULL,
  totalQuantity INTEGER NOT NULL,
  unit TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(documentId) REFERENCES documents(id)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  documentId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(documentId) REFERENCES documents(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_items_document ON document_items(documentId);
CREATE INDEX IF NOT EXISTS idx_grouped_document ON grouped_items(documentId);
`

	_, err := d.conn.Exec(schema)
	return err
}

// UpsertDocument registers a document blob, deduplicating on content hash: a
// re-submitted file keeps its id and row.
func (d *DB) UpsertDocument(source, originalFileName string, fileType internal.FileType, hash, rawRef, receivedAt string) (internal.DocumentRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO documents (source, originalFileName, fileType, hash, rawRef, status, receivedAt)
VALUES (?, ?, ?, ?, ?, 'uploaded', ?)
ON CONFLICT(hash) DO UPDATE SET
  originalFileName=excluded.originalFileName,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, source, originalFileName, string(fileType), hash, rawRef, receivedAt)
	if err != nil {
		return internal.DocumentRow{}, err
	}

	row, err := d.GetDocumentByHash(hash)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	if row == nil {
		return internal.DocumentRow{}, errors.New("failed to upsert document")
	}
	return *row, nil
}

const documentColumns = `id, source, originalFileName, fileType, hash, rawRef, status, error, COALESCE(receivedAt, '')`

func (d *DB) scanDocument(row interface{ Scan(...any) error }) (*internal.DocumentRow, error) {
	var doc internal.DocumentRow
	var fileType string
	err := row.Scan(&doc.ID, &doc.Source, &doc.OriginalFileName, &fileType, &doc.Hash, &doc.RawRef, &doc.Status, &doc.Error, &doc.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc.FileType = internal.FileType(fileType)
	return &doc, nil
}

func (d *DB) GetDocumentByID(id int) (*internal.DocumentRow, error) {
	return d.scanDocument(d.conn.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
}

func (d *DB) GetDocumentByHash(hash string) (*internal.DocumentRow, error) {
	return d.scanDocument(d.conn.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE hash = ?`, hash))
}

func (d *DB) MustDocumentByID(id int) (internal.DocumentRow, error) {
	row, err := d.GetDocumentByID(id)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	if row == nil {
		return internal.DocumentRow{}, fmt.Errorf("document not found: id=%d", id)
	}
	return *row, nil
}

func (d *DB) ListDocumentsByStatus(status string, limit int) ([]internal.DocumentRow, error) {
	rows, err := d.conn.Query(`SELECT `+documentColumns+` FROM documents WHERE status = ? ORDER BY createdAt ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.DocumentRow
	for rows.Next() {
		doc, err := d.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (d *DB) UpdateDocumentStatus(documentID int, status string) error {
	_, err := d.conn.Exec(`UPDATE documents SET status = ?, error = NULL, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, documentID)
	return err
}

// SetDocumentFailed marks a terminal failure and records the human-readable
// message shown to the user.
func (d *DB) SetDocumentFailed(documentID int, message string) error {
	_, err := d.conn.Exec(`UPDATE documents SET status = ?, error = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, internal.StatusFailed, message, documentID)
	return err
}

func (d *DB) SetDocumentExtracted(documentID int, extractedText string) error {
	_, err := d.conn.Exec(`
UPDATE documents SET extractedText = ?, status = ?, error = NULL, updatedAt = CURRENT_TIMESTAMP WHERE id = ?
`, extractedText, internal.StatusParsed, documentID)
	return err
}

// ClearDocumentItems removes a document's items and, cascade-style, their
// classifications and grouped rows. A rerun replaces prior data, never
// append-merges with it.
func (d *DB) ClearDocumentItems(documentID int) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
DELETE FROM item_classifications WHERE itemId IN (SELECT id FROM document_items WHERE documentId = ?)
`, documentID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM document_items WHERE documentId = ?`, documentID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM grouped_items WHERE documentId = ?`, documentID); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *DB) InsertItem(documentID int, line internal.ParsedLine) (int64, error) {
	var quantity *int
	if line.Quantity != nil {
		q := int(*line.Quantity)
		quantity = &q
	}
	result, err := d.conn.Exec(`
INSERT INTO document_items (documentId, rawLine, detectedDescription, detectedQuantity, detectedUnit, lineIndex)
VALUES (?, ?, ?, ?, ?, ?)
`, documentID, line.RawLine, line.Description, quantity, line.Unit, line.LineIndex)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (d *DB) ListItems(documentID int) ([]internal.ItemRow, error) {
	rows, err := d.conn.Query(`
SELECT id, documentId, rawLine, detectedDescription, detectedQuantity, detectedUnit, lineIndex
FROM document_items WHERE documentId = ? ORDER BY lineIndex ASC
`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ItemRow
	for rows.Next() {
		var row internal.ItemRow
		if err := rows.Scan(&row.ID, &row.DocumentID, &row.RawLine, &row.DetectedDescription, &row.DetectedQuantity, &row.DetectedUnit, &row.LineIndex); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) InsertClassification(itemID int, category, hsCode, cleanDescription string, confidence float64, aiRawResponse string) error {
	_, err := d.conn.Exec(`
INSERT INTO item_classifications (itemId, aiCategory, aiHsCode, cleanDescription, confidence, aiRawResponse)
VALUES (?, ?, ?, ?, ?, ?)
`, itemID, category, hsCode, cleanDescription, confidence, aiRawResponse)
	return err
}

// ListClassifiedItems joins items with their classification records, ordered
// by line index for grouping and export.
func (d *DB) ListClassifiedItems(documentID int) ([]internal.ClassifiedItem, error) {
	rows, err := d.conn.Query(`
SELECT
  i.id, i.rawLine, i.detectedDescription, i.detectedQuantity, i.detectedUnit, i.lineIndex,
  c.aiCategory, c.aiHsCode, c.cleanDescription, c.confidence
FROM document_items i
LEFT JOIN item_classifications c ON c.itemId = i.id
WHERE i.documentId = ?
ORDER BY i.lineIndex ASC
`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ClassifiedItem
	for rows.Next() {
		var row internal.ClassifiedItem
		if err := rows.Scan(
			&row.ItemID, &row.RawLine, &row.DetectedDescription, &row.DetectedQuantity, &row.DetectedUnit, &row.LineIndex,
			&row.Category, &row.HsCode, &row.CleanDescription, &row.Confidence,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReplaceGroupedItems swaps a document's grouped rows for a fresh set in one
// transaction.
func (d *DB) ReplaceGroupedItems(documentID int, grouped []internal.GroupedItem) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM grouped_items WHERE documentId = ?`, documentID); err != nil {
		return err
	}
	for _, g := range grouped {
		if _, err := tx.Exec(`
INSERT INTO grouped_items (documentId, hsCode, category, finalDescription, totalQuantity, unit)
VALUES (?, ?, ?, ?, ?, ?)
`, documentID, g.HsCode, g.Category, g.FinalDescription, g.TotalQuantity, g.Unit); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListGroupedItems(documentID int) ([]internal.GroupedItem, error) {
	rows, err := d.conn.Query(`
SELECT hsCode, category, finalDescription, totalQuantity, unit
FROM grouped_items WHERE documentId = ? ORDER BY hsCode ASC
`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.GroupedItem
	for rows.Next() {
		var g internal.GroupedItem
		if err := rows.Scan(&g.HsCode, &g.Category, &g.FinalDescription, &g.TotalQuantity, &g.Unit); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ClassificationProgress returns total items and how many already carry a
// classification record, for status polling during the ai_processed stage.
func (d *DB) ClassificationProgress(documentID int) (total int, classified int, err error) {
	err = d.conn.QueryRow(`SELECT COUNT(*) FROM document_items WHERE documentId = ?`, documentID).Scan(&total)
	if err != nil {
		return 0, 0, err
	}
	err = d.conn.QueryRow(`
SELECT COUNT(*) FROM item_classifications c
JOIN document_items i ON i.id = c.itemId
WHERE i.documentId = ?
`, documentID).Scan(&classified)
	if err != nil {
		return 0, 0, err
	}
	return total, classified, nil
}

func (d *DB) InsertRun(traceID string, documentID int, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, documentId, timingsJson, countsJson) VALUES (?, ?, ?, ?)`, traceID, documentID, string(timingsJSON), string(countsJSON))
	return err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
