// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/time/rate"
)

// Input is a text or byte-blob to embed.
type Input struct {
	Text  string
	Bytes []byte
}

// IsText reports whether this input carries text rather than raw bytes.
func (in Input) IsText() bool { return in.Bytes == nil }

// raw returns the byte representation used for hashing and fallback
// embedding regardless of which field is set.
func (in Input) raw() []byte {
	if in.Bytes != nil {
		return in.Bytes
	}
	return []byte(in.Text)
}

// Provider is a pluggable embedding backend: remote model, local
// model, or deterministic hash fallback.
type Provider interface {
	// ID is the provider identifier used in the cache key, e.g. "openai".
	ID() string
	// Model is the model name reported alongside produced vectors.
	Model() string
	// Embed produces a raw (not necessarily unit-norm or dimension-D)
	// vector for in. The caller is responsible for normalization and
	// dimension coercion.
	Embed(ctx context.Context, in Input) ([]float32, error)
}

// remoteProvider calls an HTTP embeddings endpoint, modeled on an
// Ollama /api/embed client but generic over a request/response shape
// compatible with OpenAI-style APIs.
type remoteProvider struct {
	id       string
	model    string
	url      string
	client   *http.Client
	limiter  *rate.Limiter
	apiKeyEnc *memguard.Enclave
	logger   *slog.Logger
}

// NewRemoteProvider builds a Provider backed by a remote HTTP embeddings
// endpoint. The API key is sealed in a memguard enclave immediately and
// only opened for the duration of building the request, following the
// library's documented "seal as early as possible, open as late as
// possible" usage — kept out of regular Go memory except at the HTTP
// call boundary.
func NewRemoteProvider(id, model, url, apiKey string, rps float64, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	var enc *memguard.Enclave
	if apiKey != "" {
		enc = memguard.NewEnclave([]byte(apiKey))
	}
	if rps <= 0 {
		rps = 5
	}
	return &remoteProvider{
		id:        id,
		model:     model,
		url:       url,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		apiKeyEnc: enc,
		logger:    logger,
	}
}

func (p *remoteProvider) ID() string    { return p.id }
func (p *remoteProvider) Model() string { return p.model }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *remoteProvider) Embed(ctx context.Context, in Input) ([]float32, error) {
	if !in.IsText() {
		return nil, fmt.Errorf("embedding: remote provider %s does not support image input", p.id)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding: rate limit wait: %w", err)
	}

	body, err := json.Marshal(embedRequest{Model: p.model, Input: in.Text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKeyEnc != nil {
		buf, err := p.apiKeyEnc.Open()
		if err != nil {
			return nil, fmt.Errorf("embedding: open api key enclave: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+string(buf.Bytes()))
		buf.Destroy()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: remote provider %s returned %d: %s", p.id, resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding: remote provider %s returned no vectors", p.id)
	}
	return parsed.Embeddings[0], nil
}

// fallbackProvider is the deterministic degradation path: always
// succeeds, never calls out. Used directly when EMBEDDING_PROVIDER is
// "simple" or "anthropic", and implicitly by Service when a
// remote provider exhausts its retries.
type fallbackProvider struct {
	dim int
}

func (f *fallbackProvider) ID() string    { return "fallback" }
func (f *fallbackProvider) Model() string { return "simple" + FallbackModelSuffix }

func (f *fallbackProvider) Embed(_ context.Context, in Input) ([]float32, error) {
	if in.IsText() {
		return textFallbackEmbedding(in.Text, f.dim), nil
	}
	return imageFallbackEmbedding(in.Bytes, f.dim), nil
}
