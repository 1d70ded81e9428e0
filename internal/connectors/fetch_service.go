package connectors

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"

	"hspack/internal"
	"hspack/internal/pipeline"
	"hspack/internal/storage"
)

// FetchService pulls mail through a connector, keeps only messages that look
// like packing-list mail, and stores their document attachments for the
// processing pipeline to pick up.
type FetchService struct {
	db        *storage.DB
	connector MailConnector
	store     *DocumentStoreService
}

type FetchResult struct {
	Fetched int
	Matched int
	Stored  int
}

func NewFetchService(db *storage.DB, rawDocDir string, connector MailConnector) *FetchService {
	return &FetchService{
		db:        db,
		connector: connector,
		store:     NewDocumentStoreService(db, rawDocDir),
	}
}

func (s *FetchService) FetchAndStore(label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(label, max)
	if err != nil {
		return FetchResult{}, err
	}

	result := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		stored, matched, err := s.storeMessage(msg)
		if err != nil {
			return result, err
		}
		if matched {
			result.Matched++
		}
		result.Stored += stored
	}

	return result, nil
}

func (s *FetchService) storeMessage(msg internal.FetchedMailMessage) (int, bool, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	if err != nil {
		// A malformed message is skipped, not fatal for the whole batch.
		fmt.Printf("mail %s: unreadable envelope: %v\n", msg.MessageID, err)
		return 0, false, nil
	}

	attachmentNames := make([]string, 0, len(env.Attachments))
	for _, att := range env.Attachments {
		attachmentNames = append(attachmentNames, att.FileName)
	}

	subject := msg.Subject
	if subject == "" {
		subject = env.GetHeader("Subject")
	}
	detect := pipeline.DetectPackingList(subject, env.Text, attachmentNames)
	if !detect.IsPackingList {
		return 0, false, nil
	}

	stored := 0
	for _, att := range env.Attachments {
		fileType, ok := fileTypeForName(att.FileName)
		if !ok {
			continue
		}

		name := strings.TrimSpace(att.FileName)
		if name == "" {
			name = "attachment." + string(fileType)
		}
		doc, err := s.store.Store("email:"+msg.Provider, name, fileType, att.Content, msg.ReceivedAt)
		if err != nil {
			return stored, true, err
		}
		fmt.Printf("mail %s: stored %s as document %d (%s)\n", msg.MessageID, name, doc.ID, detect.Reason)
		stored++
	}

	return stored, true, nil
}

func fileTypeForName(name string) (internal.FileType, bool) {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".pdf"):
		return internal.FileTypePDF, true
	case strings.HasSuffix(strings.ToLower(name), ".docx"):
		return internal.FileTypeDOCX, true
	case strings.HasSuffix(strings.ToLower(name), ".xlsx"):
		return internal.FileTypeXLSX, true
	default:
		return "", false
	}
}
