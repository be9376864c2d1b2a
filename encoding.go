package httpsepreload

import (
	"bytes"
	"errors"
	"strings"

	"github.com/goccy/go-json"
)

// The canonical scheme upgrade rule, stored as {"d":1}.
const (
	UpgradeFrom = "^http:"
	UpgradeTo   = "https:"
)

// Body is the compacted form of one ruleset as stored under each of its
// target keys.
type Body struct {
	Rules      []CompactRule      `json:"r"`
	Exclusions []CompactExclusion `json:"e,omitempty"`
}

// CompactRule is either the scheme upgrade shorthand or an explicit pattern
// pair.
type CompactRule struct {
	Upgrade bool
	From    string
	To      string
}

// CompactExclusion is a single exclusion pattern.
type CompactExclusion struct {
	Pattern string `json:"p"`
}

// Compact encodes a normalized ruleset's rules and exclusions.
func Compact(rs *NormalizedRuleset) Body {
	body := Body{Rules: make([]CompactRule, 0, len(rs.Rules))}
	for _, r := range rs.Rules {
		if r.From == UpgradeFrom && r.To == UpgradeTo {
			body.Rules = append(body.Rules, CompactRule{Upgrade: true})
		} else {
			body.Rules = append(body.Rules, CompactRule{From: r.From, To: r.To})
		}
	}
	for _, e := range rs.Exclusions {
		body.Exclusions = append(body.Exclusions, CompactExclusion{Pattern: e})
	}
	return body
}

// Expand returns the full rewrite rule.
func (r CompactRule) Expand() Rule {
	if r.Upgrade {
		return Rule{From: UpgradeFrom, To: UpgradeTo}
	}
	return Rule{From: r.From, To: r.To}
}

// Expand returns the full rules and exclusion patterns of the body.
func (b Body) Expand() ([]Rule, []string) {
	rules := make([]Rule, 0, len(b.Rules))
	for _, r := range b.Rules {
		rules = append(rules, r.Expand())
	}
	var exclusions []string
	for _, e := range b.Exclusions {
		exclusions = append(exclusions, e.Pattern)
	}
	return rules, exclusions
}

type shorthandRule struct {
	D int `json:"d"`
}

type explicitRule struct {
	F string `json:"f"`
	T string `json:"t"`
}

func (r CompactRule) MarshalJSON() ([]byte, error) {
	if r.Upgrade {
		return marshal(shorthandRule{D: 1})
	}
	return marshal(explicitRule{F: r.From, T: r.To})
}

func (r *CompactRule) UnmarshalJSON(b []byte) error {
	var raw struct {
		D int     `json:"d"`
		F *string `json:"f"`
		T *string `json:"t"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.D == 1 {
		*r = CompactRule{Upgrade: true}
		return nil
	}
	if raw.F == nil || raw.T == nil {
		return errors.New("compact rule needs either d or both f and t")
	}
	*r = CompactRule{From: *raw.F, To: *raw.T}
	return nil
}

// ReverseHost reverses the dot separated labels of host, so "example.com"
// becomes "com.example". It is its own inverse.
func ReverseHost(host string) string {
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}

// marshal encodes v as JSON without HTML escaping, so patterns containing
// '<', '>' or '&' are stored verbatim.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
