// Package knowledge provides the travel knowledge base used by the
// information agent.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	"gopkg.in/yaml.v3"
)

//go:embed data/travel_corpus.yaml
var defaultCorpus []byte

var ErrEmptyCorpus = errors.New("knowledge corpus has no documents")

type Config struct {
	Enabled    bool   `envconfig:"ENABLED" split_words:"true" default:"true"`
	CorpusPath string `envconfig:"CORPUS_PATH" split_words:"true"`

	// Embeddings are optional; without an API key the index ranks by
	// keyword overlap.
	EmbeddingBaseURL string  `envconfig:"EMBEDDING_BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	EmbeddingAPIKey  string  `envconfig:"EMBEDDING_API_KEY" split_words:"true"`
	EmbeddingModel   string  `envconfig:"EMBEDDING_MODEL" split_words:"true" default:"openai/text-embedding-3-small"`
	MinScore         float64 `envconfig:"MIN_SCORE" split_words:"true" default:"0.1"`
}

func (c Config) Validate() error {
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: knowledge min score must be within [0,1]", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.EmbeddingAPIKey) != "" && strings.TrimSpace(c.EmbeddingModel) == "" {
		return fmt.Errorf("%w: embedding model is required with an embedding api key", contractx.ErrValidation)
	}
	return nil
}

type corpusFile struct {
	Documents []corpusEntry `yaml:"documents"`
}

type corpusEntry struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Tags    []string `yaml:"tags"`
	Content string   `yaml:"content"`
}

// LoadCorpus reads documents from path, or the built-in corpus when path
// is empty.
func LoadCorpus(path string) ([]contractx.Document, error) {
	data := defaultCorpus
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read corpus %s: %w", p, err)
		}
		data = b
	}
	return ParseCorpus(data)
}

func ParseCorpus(data []byte) ([]contractx.Document, error) {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}

	docs := make([]contractx.Document, 0, len(file.Documents))
	seen := make(map[string]struct{}, len(file.Documents))
	for i, e := range file.Documents {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = fmt.Sprintf("doc-%d", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate document id %q", contractx.ErrValidation, id)
		}
		seen[id] = struct{}{}

		docs = append(docs, contractx.Document{
			ID:      id,
			Title:   strings.TrimSpace(e.Title),
			Content: content,
			Metadata: map[string]string{
				"tags": strings.Join(e.Tags, ","),
			},
		})
	}
	if len(docs) == 0 {
		return nil, ErrEmptyCorpus
	}
	return docs, nil
}
