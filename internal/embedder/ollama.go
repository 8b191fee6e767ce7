// Package embedder implements catalog.Embedder against a local Ollama
// server's /api/embeddings endpoint, the default embedding backend for a
// local-first deployment.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mediacore/internal/apperrors"
)

// Ollama is a catalog.Embedder backed by a local Ollama server.
type Ollama struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// New constructs an Ollama embedder. baseURL defaults to the standard
// local Ollama endpoint; dim is the model's known output width, used to
// validate responses without an extra round trip.
func New(baseURL, model string, dim int, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ollama{baseURL: baseURL, model: model, dim: dim, client: &http.Client{Timeout: timeout}}
}

func (o *Ollama) ModelID() string     { return o.model }
func (o *Ollama) Dimensionality() int { return o.dim }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls /api/embeddings once per text; Ollama's embeddings endpoint
// does not currently batch.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := o.embedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (o *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "build embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "call ollama embeddings")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.KindCollaboratorUnavailable, "ollama embeddings returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "decode ollama embeddings response")
	}
	if len(parsed.Embedding) == 0 {
		return nil, apperrors.New(apperrors.KindCollaboratorUnavailable, "ollama returned empty embedding")
	}
	if o.dim > 0 && len(parsed.Embedding) != o.dim {
		return nil, apperrors.New(apperrors.KindCollaboratorUnavailable, "ollama returned %d-dimensional embedding, expected %d", len(parsed.Embedding), o.dim)
	}
	return parsed.Embedding, nil
}
