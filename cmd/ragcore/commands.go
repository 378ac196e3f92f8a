package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/rag"
)

// =============================================================================
// 📥 ingest 命令
// =============================================================================

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	docID := fs.String("id", "", "Document id (single file only)")
	kind := fs.String("kind", "", "Document kind: text, markdown, html, code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return errors.New("ingest requires at least one file")
	}
	if *docID != "" && len(files) > 1 {
		return errors.New("--id can only be used with a single file")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	failed := 0
	for _, path := range files {
		doc, err := readDocument(path, *docID, rag.DocumentKind(*kind))
		if err != nil {
			return err
		}
		report, err := a.orch.AddKnowledge(ctx, doc)
		if report != nil {
			printReport(os.Stdout, path, report)
		}
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Error("ingest failed", zap.String("file", path), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(files))
	}
	return nil
}

// readDocument 读取文件为文档；id 为空时使用文件路径，kind 为空时按扩展名判断
func readDocument(path, id string, kind rag.DocumentKind) (rag.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rag.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	if id == "" {
		id = filepath.ToSlash(filepath.Clean(path))
	}
	if kind == "" {
		kind = kindFromPath(path)
	}
	return rag.Document{
		ID:       id,
		Content:  string(data),
		Kind:     kind,
		Metadata: rag.Metadata{"source": path},
	}, nil
}

func kindFromPath(path string) rag.DocumentKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return rag.KindMarkdown
	case ".html", ".htm":
		return rag.KindHTML
	case ".go", ".py", ".js", ".ts", ".java", ".rs", ".c", ".h", ".cpp", ".rb", ".sh":
		return rag.KindCode
	default:
		return rag.KindText
	}
}

func printReport(w io.Writer, path string, r *rag.IngestReport) {
	fmt.Fprintf(w, "%s: %d/%d chunks stored (document %s, %s)\n",
		path, r.ChunksStored, r.ChunksTotal, r.DocumentID, r.Duration.Round(time.Millisecond))
	if r.Degraded {
		fmt.Fprintln(w, "  warning: fallback embeddings were used for some chunks")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  chunk %s: [%s] %s\n", e.ChunkID, e.Code, e.Message)
	}
}

// =============================================================================
// 🔍 query 命令
// =============================================================================

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	sessionID := fs.String("session", "", "Conversation session id")
	strategy := fs.String("strategy", "", "Retrieval strategy: semantic, keyword, hybrid")
	topK := fs.Int("top-k", 0, "Number of passages to retrieve")
	load := fs.String("load", "", "Comma-separated files to ingest before querying")
	stream := fs.Bool("stream", false, "Stream the answer")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("query requires a question")
	}
	if *stream && *asJSON {
		return errors.New("--stream and --json cannot be combined")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if *load != "" {
		for _, path := range strings.Split(*load, ",") {
			doc, err := readDocument(strings.TrimSpace(path), "", "")
			if err != nil {
				return err
			}
			if _, err := a.orch.AddKnowledge(ctx, doc); err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	req := rag.QueryRequest{
		Query:     query,
		SessionID: *sessionID,
		Strategy:  rag.RetrievalStrategy(*strategy),
		TopK:      *topK,
	}
	if *stream {
		return streamAnswer(ctx, a.orch, req, os.Stdout)
	}

	res, err := a.orch.Query(ctx, req)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(res.Answer)
	printCitations(os.Stdout, res.Citations)
	return nil
}

func streamAnswer(ctx context.Context, o *rag.Orchestrator, req rag.QueryRequest, w io.Writer) error {
	qs, err := o.QueryStream(ctx, req)
	if err != nil {
		return err
	}
	for f := range qs.Fragments {
		if f.Err != nil {
			fmt.Fprintln(w)
			return f.Err
		}
		fmt.Fprint(w, f.Text)
	}
	fmt.Fprintln(w)
	printCitations(w, qs.Citations)
	return nil
}

func printCitations(w io.Writer, cites []rag.Citation) {
	if len(cites) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, c := range cites {
		fmt.Fprintf(w, "  [%d] %s (chars %d-%d, score %.3f)\n", c.Rank, c.DocumentID, c.StartIndex, c.EndIndex, c.Score)
	}
}
