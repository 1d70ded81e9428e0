package pipeline

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"hspack/internal"
)

func mkDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>`)
		body.WriteString(p)
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	buf := bytes.NewBuffer(nil)
	zw := zip.NewWriter(buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(body.String())); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractXLSX(t *testing.T) {
	blob := mkXLSX(t, [][]any{
		{"Description", "Qty", "Unit"},
		{"Floor lamp", 12, "PCS"},
		{},
		{"Ceramic vase", 5, "PCS"},
	})
	text, err := ExtractText(blob, internal.FileTypeXLSX)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 3 {
		t.Fatalf("blank rows must be dropped: %q", lines)
	}
	if !strings.Contains(lines[1], "Floor lamp") || !strings.Contains(lines[1], "12") {
		t.Fatalf("line=%q", lines[1])
	}
}

func TestExtractDOCX(t *testing.T) {
	blob := mkDOCX(t, []string{"PACKING LIST", "Floor lamp 12 PCS", "Ceramic vase 5 PCS"})
	text, err := ExtractText(blob, internal.FileTypeDOCX)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 3 {
		t.Fatalf("one line per paragraph: %q", lines)
	}
	if lines[1] != "Floor lamp 12 PCS" {
		t.Fatalf("line=%q", lines[1])
	}
}

func TestExtractDOCXMissingDocumentXML(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	zw := zip.NewWriter(buf)
	w, _ := zw.Create("word/other.xml")
	_, _ = w.Write([]byte("<x/>"))
	_ = zw.Close()

	if _, err := ExtractText(buf.Bytes(), internal.FileTypeDOCX); err == nil {
		t.Fatal("docx without word/document.xml must fail")
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	if _, err := ExtractText([]byte("x"), internal.FileType("csv")); err == nil {
		t.Fatal("unsupported type must fail")
	}
}
