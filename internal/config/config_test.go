package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBHost)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, "gemini-embedding-001", cfg.EmbeddingModel)
	assert.Equal(t, 4096, cfg.ChunkMaxChars)
	assert.Equal(t, 16, cfg.EmbedBatchSize)
	assert.Equal(t, 6, cfg.SearchTopK)
	assert.Equal(t, 5, cfg.HistoryWindow)
	assert.Equal(t, 8081, cfg.ServerPort)
	assert.Equal(t, "data/docs", cfg.DocsDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SEARCH_TOP_K", "12")
	t.Setenv("CHUNK_MAX_CHARS", "512")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, 12, cfg.SearchTopK)
	assert.Equal(t, 512, cfg.ChunkMaxChars)
}

func TestValidate_MissingRequired(t *testing.T) {
	for _, name := range []string{"DBHost", "DBUser", "DBName", "DocsDir"} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			switch name {
			case "DBHost":
				cfg.DBHost = ""
			case "DBUser":
				cfg.DBUser = ""
			case "DBName":
				cfg.DBName = ""
			case "DocsDir":
				cfg.DocsDir = ""
			}
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrMissingRequired)
		})
	}
}

func TestValidate_ChunkSizeTooSmall(t *testing.T) {
	cfg := validConfig()
	cfg.ChunkMaxChars = 100

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_MAX_CHARS")
}

func TestValidate_BatchSizeNotPositive(t *testing.T) {
	cfg := validConfig()
	cfg.EmbedBatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBED_BATCH_SIZE")
}

func validConfig() *Config {
	return &Config{
		DBHost:         "localhost",
		DBUser:         "ragdocs",
		DBName:         "ragdocs",
		DocsDir:        "data/docs",
		ChunkMaxChars:  4096,
		EmbedBatchSize: 16,
	}
}
