package knowledge

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Travel-Concierge/pkg/openrouter"
)

// NewRetriever builds the retriever described by cfg. A disabled knowledge
// base yields contract.NoopRetriever.
func NewRetriever(ctx context.Context, cfg Config) (contractx.Retriever, error) {
	if !cfg.Enabled {
		return contractx.NoopRetriever{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	docs, err := LoadCorpus(cfg.CorpusPath)
	if err != nil {
		return nil, err
	}

	var embedder Embedder
	if key := strings.TrimSpace(cfg.EmbeddingAPIKey); key != "" {
		client := openrouterx.NewClient(openrouterx.Config{
			BaseURL: cfg.EmbeddingBaseURL,
			APIKey:  key,
		})
		embedder = NewOpenAIEmbedder(client, strings.TrimSpace(cfg.EmbeddingModel))
	}

	idx, err := NewIndex(ctx, docs, embedder, cfg.MinScore)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("documents", idx.Len()).
		Bool("embeddings", embedder != nil).
		Msg("knowledge index ready")
	return idx, nil
}
