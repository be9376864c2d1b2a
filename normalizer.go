package httpsepreload

import (
	"errors"
	"fmt"

	"github.com/getlantern/golog"
)

// NormalizedRuleset is a ruleset that survived filtering, with the fields that
// matter for lookup.
type NormalizedRuleset struct {
	Name       string
	Targets    []string
	Rules      []Rule
	Exclusions []string
}

// Skip causes.
const (
	CauseDefaultOff = "default_off"
	CausePlatform   = "platform"
	CauseExcluded   = "excluded"
)

// Skipped records a ruleset that was left out of the build and why.
type Skipped struct {
	Name   string
	Cause  string
	Reason string
}

type normalizer struct {
	log        golog.Logger
	exclusions map[string]string
}

// Normalize filters and normalizes rulesets in input order. Rulesets that are
// turned off, platform specific, or named in exclusions are skipped and
// reported. A malformed ruleset aborts normalization with a schema violation.
func Normalize(rulesets []*Ruleset, exclusions map[string]string) ([]*NormalizedRuleset, []Skipped, error) {
	n := &normalizer{
		log:        golog.LoggerFor("httpsepreload-normalizer"),
		exclusions: exclusions,
	}
	return n.normalize(rulesets)
}

func (n *normalizer) normalize(rulesets []*Ruleset) ([]*NormalizedRuleset, []Skipped, error) {
	// Validate everything first so a malformed record is fatal even if it
	// would have been skipped.
	for i, rs := range rulesets {
		if err := vet(rs); err != nil {
			name := ""
			if rs != nil {
				name = rs.Name
			}
			return nil, nil, schemaError(StageNormalize, recordLabel(name, i), err)
		}
	}

	normalized := make([]*NormalizedRuleset, 0, len(rulesets))
	var skipped []Skipped
	for i, rs := range rulesets {
		if cause, reason := n.skipReason(rs); cause != "" {
			name := recordLabel(rs.Name, i)
			n.log.Debugf("NOTE: Excluding ruleset %v: %v", name, reason)
			skipped = append(skipped, Skipped{Name: name, Cause: cause, Reason: reason})
			continue
		}
		if len(rs.Targets) == 0 {
			n.log.Debugf("Ruleset %v has no targets", recordLabel(rs.Name, i))
			continue
		}
		normalized = append(normalized, &NormalizedRuleset{
			Name:       rs.Name,
			Targets:    append([]string(nil), rs.Targets...),
			Rules:      append([]Rule(nil), rs.Rules...),
			Exclusions: append([]string(nil), rs.Exclusions...),
		})
	}
	n.log.Debugf("Normalized %v rulesets, skipped %v", len(normalized), len(skipped))
	return normalized, skipped, nil
}

// skipReason returns an empty cause for rulesets that should be built.
func (n *normalizer) skipReason(rs *Ruleset) (cause string, reason string) {
	// If the rule is turned off, ignore it.
	if rs.DefaultOff != "" {
		return CauseDefaultOff, fmt.Sprintf("default off (%v)", rs.DefaultOff)
	}
	// We only build the platform independent subset.
	if rs.Platform != "" {
		return CausePlatform, fmt.Sprintf("platform %v", rs.Platform)
	}
	if reason, ok := n.exclusions[rs.Name]; ok {
		return CauseExcluded, fmt.Sprintf("excluded (%v)", reason)
	}
	return "", ""
}

// vet checks the fields every ruleset must carry.
func vet(rs *Ruleset) error {
	if rs == nil {
		return errors.New("ruleset is null")
	}
	if rs.Targets == nil {
		return errors.New("missing targets")
	}
	if rs.Rules == nil {
		return errors.New("missing rules")
	}
	return nil
}
