package httpsepreload

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Document is the flat, uncompacted mirror of the index: every ruleset in
// build order plus a table from target host to offsets into that list.
type Document struct {
	RulesetStrings []DocumentEntry  `json:"rulesetStrings"`
	Targets        map[string][]int `json:"targets"`
}

// DocumentEntry is one ruleset. Exclusions sit beside the ruleset rather than
// inside it, which is the shape existing consumers read.
type DocumentEntry struct {
	Ruleset   DocumentRuleset     `json:"ruleset"`
	Exclusion []DocumentExclusion `json:"exclusion,omitempty"`
}

type DocumentRuleset struct {
	Name string         `json:"name"`
	Rule []DocumentRule `json:"rule"`
}

type DocumentRule struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type DocumentExclusion struct {
	Pattern string `json:"pattern"`
}

// BuildDocument builds the flat document from normalized rulesets.
func BuildDocument(rulesets []*NormalizedRuleset) *Document {
	doc := &Document{
		RulesetStrings: make([]DocumentEntry, 0, len(rulesets)),
		Targets:        make(map[string][]int),
	}
	for _, rs := range rulesets {
		offset := len(doc.RulesetStrings)
		for _, target := range rs.Targets {
			offsets := doc.Targets[target]
			if n := len(offsets); n > 0 && offsets[n-1] == offset {
				continue
			}
			doc.Targets[target] = append(offsets, offset)
		}

		entry := DocumentEntry{
			Ruleset: DocumentRuleset{
				Name: rs.Name,
				Rule: make([]DocumentRule, 0, len(rs.Rules)),
			},
		}
		for _, r := range rs.Rules {
			entry.Ruleset.Rule = append(entry.Ruleset.Rule, DocumentRule{From: r.From, To: r.To})
		}
		for _, e := range rs.Exclusions {
			entry.Exclusion = append(entry.Exclusion, DocumentExclusion{Pattern: e})
		}
		doc.RulesetStrings = append(doc.RulesetStrings, entry)
	}
	return doc
}

// Encode writes the document as a single line of JSON. Map keys are sorted,
// so equal documents encode to equal bytes.
func (d *Document) Encode(w io.Writer) error {
	b, err := marshal(d)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteFile writes the document to path via a temporary file in the same
// directory, so path is either the old file or the complete new one.
func (d *Document) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// ReadDocument parses a flat document.
func ReadDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
