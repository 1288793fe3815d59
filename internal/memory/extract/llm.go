// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// LLMClient is a text-completion interface used for optional
// LLM-augmented entity extraction, supporting a per-call timeout and
// returning plain text.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// LangchainClient adapts a langchaingo llms.Model to LLMClient.
type LangchainClient struct {
	Model llms.Model
}

// Generate issues prompt to the underlying model bounded by timeout.
func (c *LangchainClient) Generate(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := llms.GenerateFromSinglePrompt(cctx, c.Model, prompt)
	if err != nil {
		return "", fmt.Errorf("extract: llm generate: %w", err)
	}
	return text, nil
}

const entityAugmentationPrompt = `Extract named entities from the text below. Respond with a JSON array only, each element shaped {"name": string, "type": one of PERSON|ORGANIZATION|LOCATION|EVENT|CONCEPT|PRODUCT|TIME|SKILL|PREFERENCE, "confidence": number between 0 and 1}. If nothing qualifies, respond with [].

Text:
%s
`

// augmentedEntity is the wire shape an LLM augmentation call returns,
// shaped to match the rule-based candidateEntity.
type augmentedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// augmentEntitiesWithLLM asks client to extract additional entities
// from text and converts its response into candidateEntity values. Any
// failure (timeout, malformed JSON) is non-fatal: the caller degrades
// to rule-only extraction, since LLM augmentation is optional.
func augmentEntitiesWithLLM(ctx context.Context, client LLMClient, text string, timeout time.Duration) ([]candidateEntity, error) {
	if client == nil {
		return nil, nil
	}

	raw, err := client.Generate(ctx, fmt.Sprintf(entityAugmentationPrompt, text), timeout)
	if err != nil {
		return nil, err
	}

	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("extract: llm response did not contain a JSON array")
	}

	var parsed []augmentedEntity
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("extract: parsing llm response: %w", err)
	}

	out := make([]candidateEntity, 0, len(parsed))
	for _, p := range parsed {
		if p.Name == "" {
			continue
		}
		out = append(out, candidateEntity{
			name:       p.Name,
			entityType: types.EntityType(p.Type),
			confidence: p.Confidence,
			properties: map[string]string{},
		})
	}
	return out, nil
}
