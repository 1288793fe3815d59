// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bm25

import (
	"strings"
	"unicode"
)

// indexTokens implements index-time tokenization: Chinese text is made
// searchable by overlapping bigrams normalized at index time; ASCII is
// lowercased and alphanum-split. The result is joined with
// spaces and stored as the FTS5 "content" column so SQLite's default
// unicode61 tokenizer, which does not segment CJK meaningfully, simply
// splits on the whitespace we already inserted.
func indexTokens(text string) string {
	var out []string
	var run []rune

	flushASCII := func() {
		if len(run) > 0 {
			out = append(out, strings.ToLower(string(run)))
			run = nil
		}
	}

	var cjk []rune
	flushCJK := func() {
		if len(cjk) == 1 {
			out = append(out, string(cjk))
		}
		for i := 0; i+1 < len(cjk); i++ {
			out = append(out, string(cjk[i:i+2]))
		}
		cjk = nil
	}

	for _, r := range text {
		switch {
		case isCJKRune(r):
			flushASCII()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			run = append(run, r)
		default:
			flushASCII()
			flushCJK()
		}
	}
	flushASCII()
	flushCJK()

	return strings.Join(out, " ")
}

// queryKeywords extracts whitespace-split keywords from a raw query
// string. CJK runs are additionally split into the same overlapping
// bigrams used at index time so queries can match indexed documents.
func queryKeywords(query string) []string {
	var keywords []string
	for _, field := range strings.Fields(query) {
		hasCJK := false
		for _, r := range field {
			if isCJKRune(r) {
				hasCJK = true
				break
			}
		}
		if hasCJK {
			tokenized := indexTokens(field)
			keywords = append(keywords, strings.Fields(tokenized)...)
			continue
		}
		keywords = append(keywords, strings.ToLower(field))
	}
	return keywords
}

func isCJKRune(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3040 && r <= 0x30FF)
}
