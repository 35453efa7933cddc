// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parser turns raw LLM text into structured ExtractedRows. It is
// deliberately tolerant: models wrap output in markdown fences, leak
// chain-of-thought tokens, or emit near-JSON that needs a TSV fallback.
// The parser never errors on malformed input — it degrades to a raw
// passthrough result and lets the orchestrator decide whether to repair.
package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/veriscribe/ingestor/internal/datatypes"
)

// Kind identifies which parse strategy ultimately produced the result.
type Kind string

const (
	KindJSON Kind = "json"
	KindTSV  Kind = "tsv"
	KindText Kind = "text" // radiology's FINDING/IMPRESSION key:value shape
	KindRaw  Kind = "raw"  // neither JSON nor TSV/text; extraction failure
)

// Result is the output of Parse.
type Result struct {
	Kind Kind
	Rows []datatypes.ExtractedRow
	// TopLevel carries fields that aren't rows: a "Report Date" field,
	// a patient block, etc., when the JSON path produced them.
	TopLevel map[string]any
	// Text is populated only for KindRaw: the cleaned (fence/thinking
	// stripped) text that could not be structured at all.
	Text string
}

// Config controls the thinking-token delimiters, overridable for models
// that use a different chain-of-thought marker than the default.
type Config struct {
	ThinkOpen  string
	ThinkClose string
}

func (c Config) withDefaults() Config {
	if c.ThinkOpen == "" {
		c.ThinkOpen = "<unused94>"
	}
	if c.ThinkClose == "" {
		c.ThinkClose = "<unused95>"
	}
	return c
}

var labHeader = []string{"TEST", "VALUE", "UNIT", "RANGE", "FLAG"}

// sectionBanners are all-uppercase section titles that sometimes show up
// as a lone line in an otherwise-tabular response; they carry no row
// data and must be dropped rather than misread as a header or a row.
var sectionBanners = map[string]bool{
	"DIFFERENTIAL COUNT": true,
	"IMPRESSION":         true,
	"COMPLETE BLOOD COUNT": true,
	"CBC":                true,
	"VITALS":             true,
}

// Parse runs the hybrid parse pipeline described in §4.4. The raw
// text is always preserved by the caller in Submission.raw_extraction;
// Parse itself never mutates its input and never discards information —
// it just tries progressively looser strategies to find structure in it.
func Parse(modality datatypes.Modality, raw string, cfg Config) Result {
	cfg = cfg.withDefaults()

	cleaned := stripThinking(raw, cfg.ThinkOpen, cfg.ThinkClose)
	cleaned = stripFences(cleaned)
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return Result{Kind: KindRaw, Text: cleaned}
	}

	if rows, top, ok := tryJSON(cleaned); ok {
		return Result{Kind: KindJSON, Rows: rows, TopLevel: top}
	}

	if modality == datatypes.ModalityRadiology {
		if rows, ok := tryKeyValue(cleaned); ok {
			return Result{Kind: KindText, Rows: rows}
		}
	}

	if rows, ok := tryTSV(cleaned); ok {
		return Result{Kind: KindTSV, Rows: rows}
	}

	return Result{Kind: KindRaw, Text: cleaned}
}

// stripThinking removes every ThinkOpen...ThinkClose block, each matched
// non-greedily and possibly spanning multiple lines. If a
// ThinkOpen appears without a matching ThinkClose, everything from
// ThinkOpen onward is dropped (a truncated thought should not leak into
// the structured output).
func stripThinking(text, open, close string) string {
	if open == "" {
		return text
	}
	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		afterOpen := rest[start+len(open):]
		end := strings.Index(afterOpen, close)
		if end < 0 {
			// unterminated thinking block: drop the remainder entirely
			break
		}
		rest = afterOpen[end+len(close):]
	}
	return b.String()
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```\\s*$")

// stripFences unwraps a single outermost markdown code fence, tolerating
// a language hint like ```json.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return text
}

func tryJSON(text string) ([]datatypes.ExtractedRow, map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, nil, false
	}

	// Prescription shape: a bare JSON array of medication objects.
	if trimmed[0] == '[' {
		var meds []struct {
			Medication string `json:"medication"`
			Dosage     string `json:"dosage"`
			Frequency  string `json:"frequency"`
			Duration   string `json:"duration"`
		}
		if err := json.Unmarshal([]byte(trimmed), &meds); err != nil {
			return nil, nil, false
		}
		rows := make([]datatypes.ExtractedRow, 0, len(meds))
		for i, m := range meds {
			rows = append(rows, datatypes.ExtractedRow{
				TestName:   "Medication",
				Medication: m.Medication,
				Dosage:     m.Dosage,
				Frequency:  m.Frequency,
				Duration:   m.Duration,
				SourceSpan: i,
			})
		}
		return rows, nil, true
	}

	var top map[string]any
	if err := json.Unmarshal([]byte(trimmed), &top); err != nil {
		return nil, nil, false
	}
	return nil, top, true
}

// findingRe / impressionRe match the RADIOLOGY extractor's FINDING: /
// IMPRESSION: key:value lines, case-insensitively, allowing the value to
// span the rest of the line (or be empty).
var (
	findingRe    = regexp.MustCompile(`(?im)^\s*FINDING:\s*(.*)$`)
	impressionRe = regexp.MustCompile(`(?im)^\s*IMPRESSION:\s*(.*)$`)
)

func tryKeyValue(text string) ([]datatypes.ExtractedRow, bool) {
	fm := findingRe.FindStringSubmatch(text)
	im := impressionRe.FindStringSubmatch(text)
	if fm == nil && im == nil {
		return nil, false
	}
	var rows []datatypes.ExtractedRow
	if fm != nil {
		rows = append(rows, datatypes.ExtractedRow{TestName: "Finding", StringValue: strings.TrimSpace(fm[1]), SourceSpan: 0})
	}
	if im != nil {
		rows = append(rows, datatypes.ExtractedRow{TestName: "Impression", StringValue: strings.TrimSpace(im[1]), SourceSpan: 1})
	}
	return rows, true
}

var multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)

func splitCells(line string) []string {
	if strings.Contains(line, "\t") {
		return strings.Split(line, "\t")
	}
	return multiSpaceRe.Split(strings.TrimSpace(line), -1)
}

func isHeaderLine(cells []string) bool {
	if len(cells) < 3 {
		return false
	}
	matches := 0
	for _, c := range cells {
		up := strings.ToUpper(strings.TrimSpace(c))
		for _, h := range labHeader {
			if up == h {
				matches++
				break
			}
		}
	}
	return matches >= 3
}

func isSectionBanner(cells []string) bool {
	nonEmpty := 0
	var only string
	for _, c := range cells {
		t := strings.TrimSpace(c)
		if t == "" {
			continue
		}
		nonEmpty++
		only = t
	}
	if nonEmpty != 1 {
		return false
	}
	return sectionBanners[strings.ToUpper(only)]
}

func tryTSV(text string) ([]datatypes.ExtractedRow, bool) {
	lines := strings.Split(text, "\n")
	headerIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitCells(line)
		if isSectionBanner(cells) {
			continue
		}
		if isHeaderLine(cells) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, false
	}

	var rows []datatypes.ExtractedRow
	span := 0
	for _, line := range lines[headerIdx+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitCells(line)
		if isSectionBanner(cells) {
			continue
		}
		if isHeaderLine(cells) {
			continue // a repeated header mid-table, e.g. before "Differential Count"
		}
		row := rowFromCells(cells, span)
		rows = append(rows, row)
		span++
	}
	if len(rows) == 0 {
		return nil, false
	}
	return rows, true
}

func rowFromCells(cells []string, span int) datatypes.ExtractedRow {
	get := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	row := datatypes.ExtractedRow{
		TestName:   get(0),
		Unit:       get(2),
		SourceSpan: span,
		Flag:       datatypes.Flag(strings.ToUpper(get(4))),
	}
	if v, err := strconv.ParseFloat(get(1), 64); err == nil {
		row.IsNumeric = true
		row.Value = v
	} else {
		row.StringValue = get(1)
	}
	if rng := get(3); rng != "" {
		low, high, ok := parseRange(rng)
		if ok {
			row.ReferenceRange = datatypes.ReferenceRange{Low: &low, High: &high, HasLow: true, HasHigh: true, Text: rng}
		} else {
			row.ReferenceRange = datatypes.ReferenceRange{Text: rng}
		}
	}
	switch row.Flag {
	case datatypes.FlagHigh, datatypes.FlagLow, datatypes.FlagNormal:
	default:
		row.Flag = datatypes.FlagNone
	}
	return row
}

var rangeRe = regexp.MustCompile(`^\s*(-?[0-9.]+)\s*-\s*(-?[0-9.]+)\s*$`)

func parseRange(s string) (low, high float64, ok bool) {
	m := rangeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	lo, err1 := strconv.ParseFloat(m[1], 64)
	hi, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}
