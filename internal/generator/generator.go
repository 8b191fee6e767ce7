// Package generator adapts github.com/teilomillet/gollm to catalog.Generator,
// grounded on the teacher's client/ai/claude gollm wiring.
package generator

import (
	"context"
	"strings"
	"time"

	"github.com/teilomillet/gollm"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
	"mediacore/internal/logging"
)

// Config selects and tunes the backing LLM provider.
type Config struct {
	Provider    string // "anthropic" | "ollama"
	Model       string
	APIKey      string
	BaseURL     string // ollama endpoint override
	MaxTokens   int
	Temperature float64
}

// Generator wraps a gollm.LLM as a catalog.Generator. gollm's Generate call
// is not itself streaming, so Stream chunks the completed response by
// whitespace to give CAG's Assembling/Generating stage the same incremental
// onChunk contract it would get from a truly streaming backend.
type Generator struct {
	llm   gollm.LLM
	model string
	ctxWindow int
}

// New constructs a Generator from cfg, following the teacher's
// gollm.NewLLM(...) option-chain pattern.
func New(cfg Config) (*Generator, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(cfg.Model),
		gollm.SetMaxRetries(3),
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, gollm.SetBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, gollm.SetMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, gollm.SetTemperature(cfg.Temperature))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "construct %s generator", cfg.Provider)
	}

	ctxWindow := 8192
	if cfg.Provider == "anthropic" {
		ctxWindow = 200000
	}
	return &Generator{llm: llm, model: cfg.Model, ctxWindow: ctxWindow}, nil
}

func (g *Generator) ModelID() string    { return g.model }
func (g *Generator) ContextWindow() int { return g.ctxWindow }

// Stream satisfies catalog.Generator. cacheHint is accepted for interface
// compatibility with internal/cag/cache's prefix-reuse contract; gollm has
// no prefix-resume primitive so it is currently a no-op here.
func (g *Generator) Stream(ctx context.Context, prompt string, _ []byte) (<-chan catalog.GenChunk, <-chan error) {
	chunks := make(chan catalog.GenChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		log := logging.FromContext(ctx)
		start := time.Now()

		p := gollm.NewPrompt(prompt)
		response, err := g.llm.Generate(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				errc <- apperrors.New(apperrors.KindCancelled, "generation cancelled")
				return
			}
			errc <- apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "generate via %s", g.model)
			return
		}
		log.Debug().Dur("elapsed", time.Since(start)).Msg("generator round trip complete")

		tokens := strings.Fields(response)
		if len(tokens) == 0 {
			select {
			case chunks <- catalog.GenChunk{Done: true}:
			case <-ctx.Done():
				errc <- ctx.Err()
			}
			return
		}
		for i, tok := range tokens {
			select {
			case <-ctx.Done():
				errc <- apperrors.New(apperrors.KindCancelled, "generation cancelled")
				return
			case chunks <- catalog.GenChunk{Text: tok + " ", Done: i == len(tokens)-1}:
			}
		}
	}()

	return chunks, errc
}
