//go:build gemini_e2e

package gemini_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloisaabril01/emailscrap/internal/source/gemini"
)

func TestSource_RealGemini_Batches(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.5-flash"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f, err := gemini.New(ctx, gemini.Config{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: os.Getenv("GEMINI_BASE_URL"),
	})
	require.NoError(t, err)

	src, err := f.Open(ctx, "independent coffee shops in Portland, Oregon")
	require.NoError(t, err)

	first, _, err := src.NextBatch(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	for _, l := range first {
		assert.NotEmpty(t, l.Name)
	}

	second, _, err := src.NextBatch(ctx, 5)
	require.NoError(t, err)
	seen := make(map[string]bool, len(first))
	for _, l := range first {
		seen[l.Identity()] = true
	}
	for _, l := range second {
		assert.False(t, seen[l.Identity()], "batch repeated %s", l.Identity())
	}
}
