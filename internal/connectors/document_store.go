package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"hspack/internal"
	"hspack/internal/storage"
)

// DocumentStoreService writes a document blob to the raw directory and
// registers it in the database. Storage is content addressed: the same bytes
// arriving twice (re-fetched mail, repeated upload) land on the same hash and
// the same document row.
type DocumentStoreService struct {
	db        *storage.DB
	rawDocDir string
}

func NewDocumentStoreService(db *storage.DB, rawDocDir string) *DocumentStoreService {
	return &DocumentStoreService{db: db, rawDocDir: rawDocDir}
}

func (s *DocumentStoreService) Store(source, originalFileName string, fileType internal.FileType, blob []byte, receivedAt string) (internal.DocumentRow, error) {
	hashBytes := sha256.Sum256(blob)
	hash := hex.EncodeToString(hashBytes[:])

	if err := os.MkdirAll(s.rawDocDir, 0o755); err != nil {
		return internal.DocumentRow{}, err
	}

	rawPath := filepath.Join(s.rawDocDir, hash+"."+string(fileType))
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, blob, 0o644); err != nil {
			return internal.DocumentRow{}, err
		}
	}

	return s.db.UpsertDocument(source, originalFileName, fileType, hash, rawPath, receivedAt)
}
