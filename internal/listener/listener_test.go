package listener

import (
	"os"
	"path/filepath"
	"testing"

	"hspack/internal"
	"hspack/internal/config"
	"hspack/internal/storage"
	"hspack/internal/util"
)

func TestExportCompletedWritesFileAndFlipsStatus(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	doc, err := db.UpsertDocument("upload", "packing list.xlsx", internal.FileTypeXLSX, "hash-1", filepath.Join(tmp, "raw.xlsx"), "")
	if err != nil {
		t.Fatal(err)
	}
	itemID, err := db.InsertItem(doc.ID, internal.ParsedLine{
		RawLine:     "Floor lamp  12  PCS",
		Description: "Floor lamp",
		Quantity:    util.FloatPtr(12),
		Unit:        util.StringPtr("PCS"),
		LineIndex:   0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InsertClassification(int(itemID), "Lighting equipment", "9405", "Floor lamp", 0.9, "{}"); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceGroupedItems(doc.ID, []internal.GroupedItem{
		{HsCode: "9405", Category: "Lighting equipment", FinalDescription: "Floor lamp", TotalQuantity: 12, Unit: util.StringPtr("PCS")},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateDocumentStatus(doc.ID, internal.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{OutputDir: filepath.Join(tmp, "out")}
	svc := NewService(db, cfg)
	if err := svc.exportCompleted(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(tmp, "out", "listener"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one export file, got %d", len(entries))
	}

	after, err := db.MustDocumentByID(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != internal.StatusExported {
		t.Fatalf("status=%s", after.Status)
	}

	// A second cycle has nothing completed left and must not re-export.
	if err := svc.exportCompleted(); err != nil {
		t.Fatal(err)
	}
	entries, err = os.ReadDir(filepath.Join(tmp, "out", "listener"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("exported document must not be exported again: %d files", len(entries))
	}
}
