package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hspack/internal"
	"hspack/internal/classify"
	"hspack/internal/config"
	"hspack/internal/connectors"
	gmailconnector "hspack/internal/connectors/gmail"
	imapconnector "hspack/internal/connectors/imap"
	"hspack/internal/hscodes"
	"hspack/internal/listener"
	"hspack/internal/pipeline"
	"hspack/internal/rules"
	"hspack/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	vocab := hscodes.Default()
	engine := rules.NewEngine(vocab)
	processor := pipeline.NewProcessingService(db, cfg, vocab, engine, classify.NewClient(cfg, vocab, engine))

	cmd := os.Args[1]
	switch cmd {
	case "doc:add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "path to pdf|docx|xlsx file")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}
		fileType, err := fileTypeForPath(*input)
		must(err)
		blob, err := os.ReadFile(*input)
		must(err)
		store := connectors.NewDocumentStoreService(db, cfg.RawDocDir)
		doc, err := store.Store("upload", filepath.Base(*input), fileType, blob, "")
		must(err)
		fmt.Printf("document added id=%d type=%s hash=%s\n", doc.ID, doc.FileType, doc.Hash)
	case "doc:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.Int("id", 0, "document id")
		batch := fs.Int("batch", 20, "batch size for pending documents")
		_ = fs.Parse(os.Args[2:])
		if *docID != 0 {
			res, err := processor.ProcessByID(context.Background(), *docID)
			must(err)
			fmt.Printf("processed document id=%d items=%d grouped=%d fallbacks=%d\n", res.DocumentID, res.Items, res.Grouped, res.Fallbacks)
			return
		}
		docs, items, err := processor.ProcessPending(context.Background(), *batch)
		must(err)
		fmt.Printf("processed pending documents=%d items=%d\n", docs, items)
	case "doc:status":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.Int("id", 0, "document id")
		_ = fs.Parse(os.Args[2:])
		if *docID == 0 {
			must(fmt.Errorf("--id is required"))
		}
		progress, err := processor.GetProgress(*docID)
		must(err)
		fmt.Printf("document id=%d status=%s classified=%d/%d\n", *docID, progress.Status, progress.Classified, progress.TotalItems)
		if progress.Error != "" {
			fmt.Printf("error: %s\n", progress.Error)
		}
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.Int("id", 0, "document id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *docID == 0 || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--id and --out are required"))
		}
		must(exportDocument(db, vocab, *docID, *out))
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "gmail", "gmail|imap")
		label := fs.String("label", "INBOX", "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := makeConnector(cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawDocDir, conn)
		result, err := fetch.FetchAndStore(*label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d matched=%d stored=%d\n", *provider, result.Fetched, result.Matched, result.Stored)
	case "mail:listen":
		s := listener.NewService(db, cfg)
		must(s.Run(context.Background()))
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "path to pdf|docx|xlsx file")
		output := fs.String("output", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *input == "" || *output == "" {
			must(fmt.Errorf("--input and --output are required"))
		}
		fileType, err := fileTypeForPath(*input)
		must(err)
		blob, err := os.ReadFile(*input)
		must(err)
		store := connectors.NewDocumentStoreService(db, cfg.RawDocDir)
		doc, err := store.Store("upload", filepath.Base(*input), fileType, blob, "")
		must(err)
		res, err := processor.ProcessDocument(context.Background(), doc)
		must(err)
		must(exportDocument(db, vocab, doc.ID, *output))
		fmt.Printf("run done document=%d items=%d grouped=%d output=%s\n", doc.ID, res.Items, res.Grouped, *output)
	default:
		usage()
		os.Exit(1)
	}
}

func exportDocument(db *storage.DB, vocab *hscodes.Vocabulary, docID int, out string) error {
	grouped, err := db.ListGroupedItems(docID)
	if err != nil {
		return err
	}
	classified, err := db.ListClassifiedItems(docID)
	if err != nil {
		return err
	}
	if len(classified) == 0 {
		return fmt.Errorf("no classified items for document id=%d (run doc:process first)", docID)
	}
	lines := pipeline.BuildExportRows(vocab, classified)
	if err := pipeline.ExportToXLSX(grouped, lines, out); err != nil {
		return err
	}
	fmt.Printf("exported %d grouped rows and %d lines to %s\n", len(grouped), len(lines), out)
	return nil
}

func fileTypeForPath(path string) (internal.FileType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return internal.FileTypePDF, nil
	case ".docx":
		return internal.FileTypeDOCX, nil
	case ".xlsx":
		return internal.FileTypeXLSX, nil
	default:
		return "", fmt.Errorf("unsupported file type: %s", path)
	}
}

func makeConnector(cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func usage() {
	fmt.Println("usage: hspack <command>")
	fmt.Println("commands:")
	fmt.Println("  doc:add --input=./packing-list.xlsx")
	fmt.Println("  doc:process [--id=1] [--batch=20]")
	fmt.Println("  doc:status --id=1")
	fmt.Println("  export:xlsx --id=1 --out=./out/result.xlsx")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:listen")
	fmt.Println("  run --input=./packing-list.pdf --output=./out/result.xlsx")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
