// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"regexp"
	"strings"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

var (
	quotedRe = regexp.MustCompile(`"([^"]{3,})"|'([^']{3,})'`)

	profileKeywordRe = regexp.MustCompile(`(?i)\bmy (name|job|occupation|role|age|birthday|email|address|favorite|favourite)\b`)

	// importanceKeywordRe flags sentences that name their own salience
	// ("always", "never", "remember that ...") for a higher default
	// importance than an ordinary sentence.
	importanceKeywordRe = regexp.MustCompile(`(?i)\b(always|never|remember|important|critical|must)\b`)
)

// classifiedItem is one (content, type, importance) unit produced by
// input classification, ready to hand to vectorstore.Add.
type classifiedItem struct {
	content    string
	memType    types.MemoryType
	importance float64
}

const (
	defaultImportance = 0.5
	raisedImportance  = 0.7
	pinnedImportance  = 0.9
	profileImportance = 0.8
)

// classifyInput splits input into pinned quotes, profile facts, and
// per-sentence short-term observations, falling back to one shortTerm
// record when nothing structured is found.
func classifyInput(input string) []classifiedItem {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	var items []classifiedItem
	remaining := input

	for _, match := range quotedRe.FindAllStringSubmatch(input, -1) {
		quote := strings.TrimSpace(firstNonEmpty(match[1], match[2]))
		if quote == "" {
			continue
		}
		items = append(items, classifiedItem{content: quote, memType: types.Pinned, importance: pinnedImportance})
		remaining = strings.Replace(remaining, match[0], "", 1)
	}

	for _, sentence := range splitSentences(remaining) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if profileKeywordRe.MatchString(sentence) {
			items = append(items, classifiedItem{content: sentence, memType: types.Profile, importance: profileImportance})
			continue
		}
		importance := defaultImportance
		if importanceKeywordRe.MatchString(sentence) {
			importance = raisedImportance
		}
		items = append(items, classifiedItem{content: sentence, memType: types.ShortTerm, importance: importance})
	}

	if len(items) == 0 {
		items = append(items, classifiedItem{content: input, memType: types.ShortTerm, importance: defaultImportance})
	}
	return items
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	raw := regexp.MustCompile(`[.!?]+\s*`).Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
