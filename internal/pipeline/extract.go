package pipeline

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"hspack/internal"
)

// ExtractText turns a document blob into one newline-joined text body. The
// rest of the pipeline only ever sees this blob; extraction failures fail the
// whole document run.
func ExtractText(blob []byte, fileType internal.FileType) (string, error) {
	switch fileType {
	case internal.FileTypePDF:
		return extractPDF(blob)
	case internal.FileTypeDOCX:
		return extractDOCX(blob)
	case internal.FileTypeXLSX:
		return extractXLSX(blob)
	default:
		return "", fmt.Errorf("unsupported file type: %s", fileType)
	}
}

func extractPDF(blob []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", fmt.Errorf("pdf text extraction failed: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", errors.New("pdf has no extractable text (image-only or scanned); export a text-based pdf or use docx")
	}
	return out, nil
}

// extractDOCX pulls paragraph text out of word/document.xml. The lenient
// html parser behind goquery handles the w: namespaced markup fine; each
// w:p paragraph becomes one output line.
func extractDOCX(blob []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", fmt.Errorf("docx open failed: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		docXML, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", err
		}
		break
	}
	if docXML == nil {
		return "", errors.New("docx has no word/document.xml")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(docXML))
	if err != nil {
		return "", err
	}

	lines := make([]string, 0)
	doc.Find(`w\:p`).Each(func(_ int, para *goquery.Selection) {
		var sb strings.Builder
		para.Find(`w\:t`).Each(func(_ int, run *goquery.Selection) {
			sb.WriteString(run.Text())
		})
		if text := strings.TrimSpace(sb.String()); text != "" {
			lines = append(lines, text)
		}
	})

	if len(lines) == 0 {
		return "", errors.New("docx has no extractable text")
	}
	return strings.Join(lines, "\n"), nil
}

func extractXLSX(blob []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("xlsx open failed: %w", err)
	}
	defer f.Close()

	lines := make([]string, 0)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			text := strings.TrimSpace(strings.Join(row, "\t"))
			if text != "" {
				lines = append(lines, text)
			}
		}
	}

	if len(lines) == 0 {
		return "", errors.New("xlsx has no extractable text")
	}
	return strings.Join(lines, "\n"), nil
}
