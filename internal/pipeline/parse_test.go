package pipeline

import (
	"reflect"
	"testing"
)

func TestParseLinesUnitAndQuantity(t *testing.T) {
	items := ParseLines("Floor lamp  12  PCS")
	if len(items) != 1 {
		t.Fatalf("len=%d", len(items))
	}
	item := items[0]
	if item.Description != "Floor lamp" {
		t.Fatalf("description=%q", item.Description)
	}
	if item.Quantity == nil || *item.Quantity != 12 {
		t.Fatalf("quantity=%v", item.Quantity)
	}
	if item.Unit == nil || *item.Unit != "PCS" {
		t.Fatalf("unit=%v", item.Unit)
	}
}

func TestParseLinesShortLinesDropped(t *testing.T) {
	items := ParseLines("-\nOK\nCeramic vase 5 PCS\n..")
	if len(items) != 1 {
		t.Fatalf("short lines must be dropped: %+v", items)
	}
	if items[0].LineIndex != 0 {
		t.Fatalf("lineIndex must start at 0: %d", items[0].LineIndex)
	}
}

func TestParseLinesIndexStrictlyIncreasing(t *testing.T) {
	items := ParseLines("Floor lamp 12 PCS\nCafe chair 4 PCS\nWallpaper roll 30 M")
	if len(items) != 3 {
		t.Fatalf("len=%d", len(items))
	}
	for i, item := range items {
		if item.LineIndex != i {
			t.Fatalf("lineIndex[%d]=%d", i, item.LineIndex)
		}
	}
}

func TestParseLinesDescriptionFallback(t *testing.T) {
	// A line that is nothing but quantity and unit falls back to the full
	// raw line as its description.
	items := ParseLines("120 PCS")
	if len(items) != 1 {
		t.Fatalf("len=%d", len(items))
	}
	if items[0].Description != "120 PCS" {
		t.Fatalf("description=%q", items[0].Description)
	}
	if items[0].Quantity == nil || *items[0].Quantity != 120 {
		t.Fatalf("quantity=%v", items[0].Quantity)
	}
}

func TestParseLinesNoTrailingTokens(t *testing.T) {
	items := ParseLines("Handmade wooden box")
	if len(items) != 1 {
		t.Fatalf("len=%d", len(items))
	}
	if items[0].Quantity != nil || items[0].Unit != nil {
		t.Fatalf("no tokens expected: %+v", items[0])
	}
	if items[0].Description != "Handmade wooden box" {
		t.Fatalf("description=%q", items[0].Description)
	}
}

func TestParseLinesDecimalQuantityAndCaseInsensitiveUnit(t *testing.T) {
	items := ParseLines("Bed linen set 2.5 kgs")
	if len(items) != 1 {
		t.Fatalf("len=%d", len(items))
	}
	if items[0].Quantity == nil || *items[0].Quantity != 2.5 {
		t.Fatalf("quantity=%v", items[0].Quantity)
	}
	if items[0].Unit == nil || *items[0].Unit != "KGS" {
		t.Fatalf("unit must be uppercased: %v", items[0].Unit)
	}
}

func TestParseLinesIdempotent(t *testing.T) {
	text := "Floor standing lamp China 12 PCS\nCeramic vase decorative 5 PCS\nTIN NO 123456"
	a := ParseLines(text)
	b := ParseLines(text)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("ParseLines must be a pure function of its input")
	}
	if len(a) != 3 {
		t.Fatalf("len=%d", len(a))
	}
}
