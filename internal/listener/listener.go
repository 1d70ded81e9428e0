package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"hspack/internal"
	"hspack/internal/classify"
	"hspack/internal/config"
	"hspack/internal/connectors"
	gmailconnector "hspack/internal/connectors/gmail"
	imapconnector "hspack/internal/connectors/imap"
	"hspack/internal/hscodes"
	"hspack/internal/pipeline"
	"hspack/internal/rules"
	"hspack/internal/storage"
)

// Service is the long-running mail watcher. Each cycle fetches packing-list
// mail, classifies any pending documents, and exports the finished ones.
type Service struct {
	db        *storage.DB
	cfg       config.Config
	vocab     *hscodes.Vocabulary
	processor *pipeline.ProcessingService
}

func NewService(db *storage.DB, cfg config.Config) *Service {
	vocab := hscodes.Default()
	engine := rules.NewEngine(vocab)
	classifier := classify.NewClient(cfg, vocab, engine)
	return &Service{
		db:        db,
		cfg:       cfg,
		vocab:     vocab,
		processor: pipeline.NewProcessingService(db, cfg, vocab, engine, classifier),
	}
}

func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.runCycle(ctx); err != nil {
			fmt.Printf("listener cycle error: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(s.cfg.MailListenerIntervalSec) * time.Second):
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := s.makeConnector(provider)
	if err != nil {
		return err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawDocDir, mailConnector)
	fetchResult, err := fetchService.FetchAndStore(s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}

	processedDocs, processedItems, err := s.processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch)
	if err != nil {
		return err
	}

	if s.cfg.MailListenerAutoExport {
		if err := s.exportCompleted(); err != nil {
			return err
		}
	}

	fmt.Printf("listener cycle done provider=%s fetched=%d matched=%d stored=%d documents=%d items=%d\n",
		provider, fetchResult.Fetched, fetchResult.Matched, fetchResult.Stored, processedDocs, processedItems)
	_ = s.db.SetMetadata("listener_last_cycle", time.Now().UTC().Format(time.RFC3339))
	return nil
}

func (s *Service) exportCompleted() error {
	docs, err := s.db.ListDocumentsByStatus(internal.StatusCompleted, 200)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		grouped, err := s.db.ListGroupedItems(doc.ID)
		if err != nil {
			return err
		}
		if len(grouped) == 0 {
			continue
		}
		classified, err := s.db.ListClassifiedItems(doc.ID)
		if err != nil {
			return err
		}

		lines := pipeline.BuildExportRows(s.vocab, classified)
		filename := fmt.Sprintf("%d_%s.xlsx", doc.ID, sanitizeFileName(doc.OriginalFileName))
		outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
		if err := pipeline.ExportToXLSX(grouped, lines, outputPath); err != nil {
			return err
		}
		_ = s.db.UpdateDocumentStatus(doc.ID, internal.StatusExported)
	}
	return nil
}

func (s *Service) makeConnector(provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}

func sanitizeFileName(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_")
	out := repl.Replace(strings.TrimSuffix(input, filepath.Ext(input)))
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
