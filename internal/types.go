package internal

type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeXLSX FileType = "xlsx"
)

// Document lifecycle statuses. A document moves
// uploaded -> parsed -> ai_processed -> completed; failed is reachable
// from any state.
const (
	StatusUploaded    = "uploaded"
	StatusParsed      = "parsed"
	StatusAIProcessed = "ai_processed"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusExported    = "exported"
)

type DocumentRow struct {
	ID               int
	Source           string
	OriginalFileName string
	FileType         FileType
	Hash             string
	RawRef           string
	Status           string
	Error            *string
	ReceivedAt       string
}

// ParsedLine is one candidate line item detected in extracted document text.
type ParsedLine struct {
	RawLine     string
	Description string
	Quantity    *float64
	Unit        *string
	LineIndex   int
}

type ItemRow struct {
	ID                  int
	DocumentID          int
	RawLine             string
	DetectedDescription *string
	DetectedQuantity    *int
	DetectedUnit        *string
	LineIndex           int
}

// ClassificationResult is the normalized output of the AI classifier or the
// rules-only fallback, after the assessor rules layer has run.
type ClassificationResult struct {
	IsImportItem     bool    `json:"isImportItem"`
	Category         string  `json:"category"`
	HsCode           string  `json:"hsCode"`
	CleanDescription string  `json:"cleanDescription"`
	Confidence       float64 `json:"confidence,omitempty"`
	AIRawResponse    string  `json:"-"`
}

// ClassifiedItem joins a stored line item with its classification record.
type ClassifiedItem struct {
	ItemID              int
	RawLine             string
	DetectedDescription *string
	DetectedQuantity    *int
	DetectedUnit        *string
	LineIndex           int
	Category            *string
	HsCode              *string
	CleanDescription    *string
	Confidence          *float64
}

// GroupedItem is the per-HS-code aggregate produced for export.
type GroupedItem struct {
	HsCode           string
	Category         string
	FinalDescription string
	TotalQuantity    int
	Unit             *string
}

type ExportRow struct {
	LineIndex        int
	RawLine          string
	Description      *string
	Quantity         *int
	Unit             *string
	Category         *string
	HsCode           *string
	CleanDescription *string
	Confidence       *float64
	Status           string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
