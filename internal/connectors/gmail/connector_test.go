package gmail

import "testing"

func TestSearchQueryCoversDocumentTypes(t *testing.T) {
	got := searchQuery()
	want := "has:attachment (filename:pdf OR filename:docx OR filename:xlsx)"
	if got != want {
		t.Fatalf("query=%q", got)
	}
}
