package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"hspack/internal"
	"hspack/internal/classify"
	"hspack/internal/config"
	"hspack/internal/hscodes"
	"hspack/internal/rules"
	"hspack/internal/storage"
	"hspack/internal/util"
)

// ProcessingService drives a document through its lifecycle:
// uploaded -> parsed -> ai_processed -> completed, with failed reachable from
// any stage. Each document run is sequential; concurrent reprocessing of the
// same document is rejected by a single-flight guard, since two interleaved
// delete+insert passes would corrupt the item set.
type ProcessingService struct {
	db         *storage.DB
	cfg        config.Config
	vocab      *hscodes.Vocabulary
	engine     *rules.Engine
	classifier classify.Classifier

	mu       sync.Mutex
	inFlight map[int]struct{}
}

func NewProcessingService(db *storage.DB, cfg config.Config, vocab *hscodes.Vocabulary, engine *rules.Engine, classifier classify.Classifier) *ProcessingService {
	return &ProcessingService{
		db:         db,
		cfg:        cfg,
		vocab:      vocab,
		engine:     engine,
		classifier: classifier,
		inFlight:   map[int]struct{}{},
	}
}

type ProcessResult struct {
	DocumentID int
	Items      int
	Grouped    int
	Fallbacks  int
}

// Progress is the polling view of a document mid-run.
type Progress struct {
	Status     string
	Error      string
	TotalItems int
	Classified int
}

func (s *ProcessingService) ProcessByID(ctx context.Context, documentID int) (ProcessResult, error) {
	doc, err := s.db.MustDocumentByID(documentID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessDocument(ctx, doc)
}

// ProcessPending processes documents waiting in the uploaded state. One
// document failing marks it failed and moves on; the batch keeps going.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int) (int, int, error) {
	pending, err := s.db.ListDocumentsByStatus(internal.StatusUploaded, limit)
	if err != nil {
		return 0, 0, err
	}
	processedDocs := 0
	processedItems := 0
	for _, doc := range pending {
		res, err := s.ProcessDocument(ctx, doc)
		if err != nil {
			fmt.Printf("process document id=%d failed: %v\n", doc.ID, err)
			continue
		}
		processedDocs++
		processedItems += res.Items
	}
	return processedDocs, processedItems, nil
}

func (s *ProcessingService) ProcessDocument(ctx context.Context, doc internal.DocumentRow) (ProcessResult, error) {
	if !s.acquire(doc.ID) {
		return ProcessResult{}, fmt.Errorf("document %d is already being processed", doc.ID)
	}
	defer s.release(doc.ID)

	result, err := s.run(ctx, doc)
	if err != nil {
		if failErr := s.db.SetDocumentFailed(doc.ID, err.Error()); failErr != nil {
			fmt.Printf("mark document %d failed: %v\n", doc.ID, failErr)
		}
		return ProcessResult{}, err
	}
	return result, nil
}

func (s *ProcessingService) run(ctx context.Context, doc internal.DocumentRow) (ProcessResult, error) {
	start := time.Now()

	blob, err := os.ReadFile(doc.RawRef)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("read document blob: %w", err)
	}

	text, err := ExtractText(blob, doc.FileType)
	if err != nil {
		return ProcessResult{}, err
	}
	if err := s.db.SetDocumentExtracted(doc.ID, text); err != nil {
		return ProcessResult{}, err
	}

	// Replace, never append: a rerun discards every prior item along with its
	// classifications and grouped rows.
	parsed := ParseLines(text)
	if err := s.db.ClearDocumentItems(doc.ID); err != nil {
		return ProcessResult{}, err
	}
	for _, line := range parsed {
		if _, err := s.db.InsertItem(doc.ID, line); err != nil {
			return ProcessResult{}, err
		}
	}

	items, err := s.db.ListItems(doc.ID)
	if err != nil {
		return ProcessResult{}, err
	}

	// Status flips before the loop so pollers can watch classified/total grow.
	if err := s.db.UpdateDocumentStatus(doc.ID, internal.StatusAIProcessed); err != nil {
		return ProcessResult{}, err
	}

	fallbacks := 0
	for _, item := range items {
		description := util.Deref(item.DetectedDescription)
		if description == "" {
			description = item.RawLine
		}

		result, err := s.classifier.Classify(ctx, description, classify.Options{Unit: util.Deref(item.DetectedUnit)})
		if err != nil {
			// Rules-only fallback: the item still gets a classification
			// record, flagged for review, with the failure kept in the raw
			// response column.
			fallbacks++
			fb := s.engine.ClassifyByRulesOnly(description)
			if insertErr := s.db.InsertClassification(item.ID, fb.Category, fb.HsCode, fb.CleanDescription, 0.5, err.Error()); insertErr != nil {
				fmt.Printf("fallback classification insert failed item=%d: %v\n", item.ID, insertErr)
			}
			continue
		}

		hsCode := result.HsCode
		if !result.IsImportItem {
			hsCode = s.vocab.ExcludedCode()
		}
		if insertErr := s.db.InsertClassification(item.ID, result.Category, hsCode, result.CleanDescription, result.Confidence, result.AIRawResponse); insertErr != nil {
			return ProcessResult{}, insertErr
		}
	}

	classified, err := s.db.ListClassifiedItems(doc.ID)
	if err != nil {
		return ProcessResult{}, err
	}

	grouped := GroupItems(s.vocab, classified)
	if err := s.db.ReplaceGroupedItems(doc.ID, grouped); err != nil {
		return ProcessResult{}, err
	}

	if err := s.db.UpdateDocumentStatus(doc.ID, internal.StatusCompleted); err != nil {
		return ProcessResult{}, err
	}

	_ = s.db.InsertRun(traceID(), doc.ID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{"items": len(items), "grouped": len(grouped), "fallbacks": fallbacks},
	)

	return ProcessResult{DocumentID: doc.ID, Items: len(items), Grouped: len(grouped), Fallbacks: fallbacks}, nil
}

// GetProgress reports lifecycle status plus the classified/total counter for
// polling consumers.
func (s *ProcessingService) GetProgress(documentID int) (Progress, error) {
	doc, err := s.db.MustDocumentByID(documentID)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{Status: doc.Status, Error: util.Deref(doc.Error)}
	if doc.Status == internal.StatusParsed || doc.Status == internal.StatusAIProcessed {
		total, classified, err := s.db.ClassificationProgress(documentID)
		if err != nil {
			return Progress{}, err
		}
		p.TotalItems = total
		p.Classified = classified
	}
	return p, nil
}

func (s *ProcessingService) acquire(documentID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[documentID]; busy {
		return false
	}
	s.inFlight[documentID] = struct{}{}
	return true
}

func (s *ProcessingService) release(documentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, documentID)
}

func traceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
