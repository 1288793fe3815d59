// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract implements the memory core's Entity and Relation
// Extractors: a regex rule set mapping text spans to typed entities
// and typed relations, with optional LLM augmentation.
package extract

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

//go:embed entity_rules.yaml
var defaultEntityRulesYAML []byte

//go:embed relation_rules.yaml
var defaultRelationRulesYAML []byte

// DefaultConfidenceThreshold filters weak entity matches.
const DefaultConfidenceThreshold = 0.5

// EntityRule is one entry of the entity pattern table: a pattern,
// type, base confidence, name function, and optional properties
// function. nameFn is realized as "take capture group NameGroup";
// propertiesFn is realized
// as a fixed map of property key to either a literal value or, when the
// value is of the form "$N", the text of capture group N. NameSuffix,
// when set, is appended to the captured name unless it's already
// present, normalizing a bare company name like "明略科技" to
// "明略科技公司".
type EntityRule struct {
	Pattern        string            `yaml:"pattern"`
	Type           types.EntityType  `yaml:"type"`
	BaseConfidence float64           `yaml:"base_confidence"`
	NameGroup      int               `yaml:"name_group"`
	NameSuffix     string            `yaml:"name_suffix"`
	Properties     map[string]string `yaml:"properties"`
}

// EntityRuleSet is the top-level YAML document for entity rules.
type EntityRuleSet struct {
	Enabled              bool         `yaml:"enabled"`
	ConfidenceThreshold  float64      `yaml:"confidence_threshold"`
	Rules                []EntityRule `yaml:"rules"`
}

// RelationRule is one entry of the relation pattern table: a pattern,
// type, base confidence, optional source/target types, and source/
// target/properties functions.
type RelationRule struct {
	Pattern        string              `yaml:"pattern"`
	Type           types.RelationType  `yaml:"type"`
	BaseConfidence float64             `yaml:"base_confidence"`
	SourceGroup    int                 `yaml:"source_group"`
	TargetGroup    int                 `yaml:"target_group"`
	SourceType     types.EntityType    `yaml:"source_type"`
	TargetType     types.EntityType    `yaml:"target_type"`
	Properties     map[string]string   `yaml:"properties"`
}

// RelationRuleSet is the top-level YAML document for relation rules.
type RelationRuleSet struct {
	Enabled bool           `yaml:"enabled"`
	Rules   []RelationRule `yaml:"rules"`
}

type compiledEntityRule struct {
	EntityRule
	re *regexp.Regexp
}

type compiledRelationRule struct {
	RelationRule
	re *regexp.Regexp
}

// LoadEntityRules parses an entity rule set from YAML bytes and
// compiles every pattern, failing fast on the first invalid regexp or
// out-of-range capture group.
func LoadEntityRules(data []byte) (*EntityRuleSet, []compiledEntityRule, error) {
	var set EntityRuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, nil, fmt.Errorf("extract: parsing entity rules: %w", err)
	}
	if set.ConfidenceThreshold <= 0 {
		set.ConfidenceThreshold = DefaultConfidenceThreshold
	}

	compiled := make([]compiledEntityRule, 0, len(set.Rules))
	for i, r := range set.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("extract: entity rule[%d] pattern: %w", i, err)
		}
		if r.NameGroup > re.NumSubexp() {
			return nil, nil, fmt.Errorf("extract: entity rule[%d]: name_group %d exceeds capture groups", i, r.NameGroup)
		}
		compiled = append(compiled, compiledEntityRule{EntityRule: r, re: re})
	}
	return &set, compiled, nil
}

// LoadRelationRules parses a relation rule set from YAML bytes and
// compiles every pattern.
func LoadRelationRules(data []byte) (*RelationRuleSet, []compiledRelationRule, error) {
	var set RelationRuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, nil, fmt.Errorf("extract: parsing relation rules: %w", err)
	}

	compiled := make([]compiledRelationRule, 0, len(set.Rules))
	for i, r := range set.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("extract: relation rule[%d] pattern: %w", i, err)
		}
		if r.SourceGroup > re.NumSubexp() || r.TargetGroup > re.NumSubexp() {
			return nil, nil, fmt.Errorf("extract: relation rule[%d]: group index exceeds capture groups", i)
		}
		compiled = append(compiled, compiledRelationRule{RelationRule: r, re: re})
	}
	return &set, compiled, nil
}

// DefaultEntityRules loads the embedded default entity rule table.
func DefaultEntityRules() (*EntityRuleSet, []compiledEntityRule, error) {
	return LoadEntityRules(defaultEntityRulesYAML)
}

// DefaultRelationRules loads the embedded default relation rule table.
func DefaultRelationRules() (*RelationRuleSet, []compiledRelationRule, error) {
	return LoadRelationRules(defaultRelationRulesYAML)
}
