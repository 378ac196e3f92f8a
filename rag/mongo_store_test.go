package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/types"
)

func TestMongoFilter(t *testing.T) {
	q := mongoFilter(Metadata{MetaDocumentID: "doc-1", "lang": "en"})
	got := map[string]any{}
	for _, e := range q {
		got[e.Key] = e.Value
	}
	assert.Equal(t, map[string]any{"document_id": "doc-1", "metadata.lang": "en"}, got)
	assert.Empty(t, mongoFilter(nil))
}

func TestMetadataFromBSON(t *testing.T) {
	meta, err := metadataFromBSON(bson.M{
		"page":  int32(3),
		"score": 0.5,
		"tags":  bson.A{"a", "b"},
		"draft": false,
		"gone":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta["page"])
	assert.Equal(t, 0.5, meta["score"])
	assert.Equal(t, []string{"a", "b"}, meta["tags"])
	assert.Equal(t, false, meta["draft"])
	assert.NotContains(t, meta, "gone")

	_, err = metadataFromBSON(bson.M{"nested": bson.M{"x": 1}})
	assert.Error(t, err)
}

func TestMongoChunk_ToChunk(t *testing.T) {
	c, err := mongoChunk{
		ID:         "d#0",
		DocumentID: "d",
		Text:       "hello",
		EndIndex:   5,
		Embedding:  []float64{1, 0},
		Metadata:   bson.M{MetaChunkIndex: int64(0)},
	}.toChunk()
	require.NoError(t, err)
	assert.Equal(t, "d#0", c.ID)
	assert.Equal(t, 5, c.EndIndex)
	assert.Equal(t, int64(0), c.Metadata[MetaChunkIndex])
}

func TestNewMongoVectorStore_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MongoDBConfig
		dim  int
	}{
		{"missing uri", config.MongoDBConfig{Database: "db", Collection: "c"}, 3},
		{"missing collection", config.MongoDBConfig{URI: "mongodb://localhost:27017", Database: "db"}, 3},
		{"bad dimension", config.MongoDBConfig{URI: "mongodb://localhost:27017", Database: "db", Collection: "c"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMongoVectorStore(context.Background(), tt.cfg, tt.dim, nil)
			assert.True(t, types.IsConfigurationError(err))
		})
	}
}
