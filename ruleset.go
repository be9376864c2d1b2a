package httpsepreload

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Rule is a rule to apply when processing a URL.
type Rule struct {
	From string
	To   string
}

// Ruleset is a set of rules to apply to a set of targets with flags for things
// like whether or not the set is active, targets, rules, exclusions, etc.
//
// A nil Targets or Rules means the field was missing from the input, which is
// different from an empty list.
type Ruleset struct {
	Name       string
	Targets    []string
	Rules      []Rule
	Exclusions []string
	// DefaultOff holds the reason the ruleset is turned off, if any.
	DefaultOff string
	Platform   string
}

// UnmarshalJSON decodes a ruleset in either of the spellings found in the
// wild (default.rulesets uses "target", "rule", "exclusion", "default_off").
// The name is set before any other field is checked so that callers can
// report which record was malformed.
func (rs *Ruleset) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return errors.New("ruleset is not an object")
	}
	if fields == nil {
		return errors.New("ruleset is null")
	}

	if raw, ok := fields["name"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &rs.Name); err != nil {
			return errors.New("name: expected string")
		}
	}

	if raw, key, ok := pick(fields, "targets", "target"); ok {
		var targets []json.RawMessage
		if err := json.Unmarshal(raw, &targets); err != nil {
			return fmt.Errorf("%v: expected array", key)
		}
		rs.Targets = make([]string, 0, len(targets))
		for i, t := range targets {
			var host string
			if err := json.Unmarshal(t, &host); err != nil || isNull(t) {
				return fmt.Errorf("%v[%d]: expected string", key, i)
			}
			rs.Targets = append(rs.Targets, host)
		}
	}

	if raw, key, ok := pick(fields, "rules", "rule"); ok {
		var rules []struct {
			From *string `json:"from"`
			To   *string `json:"to"`
		}
		if err := json.Unmarshal(raw, &rules); err != nil {
			return fmt.Errorf("%v: expected array of {from, to}", key)
		}
		rs.Rules = make([]Rule, 0, len(rules))
		for i, r := range rules {
			if r.From == nil || r.To == nil {
				return fmt.Errorf("%v[%d]: missing from or to", key, i)
			}
			rs.Rules = append(rs.Rules, Rule{From: *r.From, To: *r.To})
		}
	}

	if raw, key, ok := pick(fields, "exclusions", "exclusion"); ok {
		var exclusions []json.RawMessage
		if err := json.Unmarshal(raw, &exclusions); err != nil {
			return fmt.Errorf("%v: expected array", key)
		}
		for i, e := range exclusions {
			pattern, err := decodeExclusion(e)
			if err != nil {
				return fmt.Errorf("%v[%d]: %v", key, i, err)
			}
			rs.Exclusions = append(rs.Exclusions, pattern)
		}
	}

	if raw, key, ok := pick(fields, "default_off", "defaultOff"); ok {
		off, err := decodeFlag(raw)
		if err != nil {
			return fmt.Errorf("%v: %v", key, err)
		}
		rs.DefaultOff = off
	}

	if raw, ok := fields["platform"]; ok && !isNull(raw) {
		platform, err := decodeFlag(raw)
		if err != nil {
			return fmt.Errorf("platform: %v", err)
		}
		rs.Platform = platform
	}
	return nil
}

// pick returns the first present, non-null field among keys.
func pick(fields map[string]json.RawMessage, keys ...string) (json.RawMessage, string, bool) {
	for _, key := range keys {
		if raw, ok := fields[key]; ok && !isNull(raw) {
			return raw, key, true
		}
	}
	return nil, "", false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeExclusion accepts either a bare pattern string or {"pattern": "..."}.
func decodeExclusion(raw json.RawMessage) (string, error) {
	var pattern string
	if err := json.Unmarshal(raw, &pattern); err == nil && !isNull(raw) {
		return pattern, nil
	}
	var obj struct {
		Pattern *string `json:"pattern"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Pattern == nil {
		return "", errors.New("expected pattern string")
	}
	return *obj.Pattern, nil
}

// decodeFlag turns an optional flag/reason into a string. false, "" and null
// all mean unset.
func decodeFlag(raw json.RawMessage) (string, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case bool:
		if t {
			return "true", nil
		}
		return "", nil
	case string:
		return t, nil
	case float64:
		if t == 0 {
			return "", nil
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", errors.New("expected string, bool or number")
	}
}

// The types below are the legacy XML ruleset file format.

type xmlTarget struct {
	Host string `xml:"host,attr"`
}

type xmlExclusion struct {
	Pattern string `xml:"pattern,attr"`
}

type xmlRule struct {
	From string `xml:"from,attr"`
	To   string `xml:"to,attr"`
}

type xmlRuleset struct {
	Name      string         `xml:"name,attr"`
	Off       string         `xml:"default_off,attr"`
	Platform  string         `xml:"platform,attr"`
	Target    []xmlTarget    `xml:"target"`
	Exclusion []xmlExclusion `xml:"exclusion"`
	Rule      []xmlRule      `xml:"rule"`
}

type xmlLibrary struct {
	Rulesets []xmlRuleset `xml:"ruleset"`
}

func (x *xmlRuleset) toRuleset() *Ruleset {
	rs := &Ruleset{
		Name:       x.Name,
		DefaultOff: x.Off,
		Platform:   x.Platform,
	}
	// XML has no way to say "present but empty", so an absent element list
	// stays nil and is reported as missing during normalization.
	for _, t := range x.Target {
		rs.Targets = append(rs.Targets, t.Host)
	}
	for _, r := range x.Rule {
		rs.Rules = append(rs.Rules, Rule{From: r.From, To: r.To})
	}
	for _, e := range x.Exclusion {
		rs.Exclusions = append(rs.Exclusions, e.Pattern)
	}
	return rs
}
