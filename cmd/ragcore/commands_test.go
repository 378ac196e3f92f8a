package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/rag"
	"github.com/BaSui01/ragcore/types"
)

func TestKindFromPath(t *testing.T) {
	tests := map[string]rag.DocumentKind{
		"notes.md":        rag.KindMarkdown,
		"README.MARKDOWN": rag.KindMarkdown,
		"page.htm":        rag.KindHTML,
		"main.go":         rag.KindCode,
		"notes.txt":       rag.KindText,
		"Makefile":        rag.KindText,
	}
	for path, want := range tests {
		assert.Equal(t, want, kindFromPath(path), path)
	}
}

func TestReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nhello"), 0o600))

	doc, err := readDocument(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(path), doc.ID)
	assert.Equal(t, rag.KindMarkdown, doc.Kind)
	assert.Equal(t, path, doc.Metadata["source"])

	doc, err = readDocument(path, "custom", rag.KindText)
	require.NoError(t, err)
	assert.Equal(t, "custom", doc.ID)
	assert.Equal(t, rag.KindText, doc.Kind)

	_, err = readDocument(filepath.Join(t.TempDir(), "missing.txt"), "", "")
	assert.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, "a.txt", &rag.IngestReport{
		DocumentID:   "a",
		ChunksTotal:  3,
		ChunksStored: 2,
		Degraded:     true,
		Duration:     1500 * time.Microsecond,
		Errors:       []rag.ChunkError{{ChunkID: "a#1", Code: types.ErrProviderUnavailable, Message: "down"}},
	})
	out := buf.String()
	assert.Contains(t, out, "a.txt: 2/3 chunks stored (document a, 2ms)")
	assert.Contains(t, out, "fallback embeddings")
	assert.Contains(t, out, "chunk a#1: [PROVIDER_UNAVAILABLE] down")
}

func TestNeedsRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.False(t, needsRedis(cfg))

	cfg.Context.Store = "redis"
	assert.True(t, needsRedis(cfg))

	cfg = config.DefaultConfig()
	cfg.Embedding.CacheBackend = "redis"
	assert.True(t, needsRedis(cfg))
	cfg.Embedding.CacheEnabled = false
	assert.False(t, needsRedis(cfg))
}

func TestStreamAnswer_Fallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Generation.Model = ""
	ctx := context.Background()

	o, err := rag.NewOrchestratorFromConfig(ctx, cfg, rag.BuildOptions{}, zap.NewNop())
	require.NoError(t, err)
	defer o.Close()

	_, err = o.AddKnowledge(ctx, rag.Document{ID: "doc", Content: "Channels connect goroutines."})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, streamAnswer(ctx, o, rag.QueryRequest{Query: "channels"}, &buf))
	assert.Contains(t, buf.String(), "Channels connect goroutines.")
	assert.Contains(t, buf.String(), "Sources:")
	assert.Contains(t, buf.String(), "[1] doc")
}

func TestRunMigrate_Validation(t *testing.T) {
	assert.Error(t, runMigrate(nil))
	assert.Error(t, runMigrate([]string{"sideways"}))
	assert.Error(t, runMigrate([]string{"steps"}))
	assert.Error(t, runMigrate([]string{"force", "abc"}))
	assert.NoError(t, runMigrate([]string{"help"}))
}
