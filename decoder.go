package httpsepreload

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getlantern/golog"
	"github.com/goccy/go-json"
)

// Format selects how a raw rule collection is decoded.
type Format string

const (
	// FormatAuto sniffs gzip, XML or JSON from the payload itself.
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ParseFormat validates a configured input format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJSON, FormatXML:
		return f, nil
	}
	return "", fmt.Errorf("unknown input format %q", s)
}

var gzipMagic = []byte{0x1f, 0x8b}

type decoder struct {
	log golog.Logger
}

func newDecoder() *decoder {
	return &decoder{
		log: golog.LoggerFor("httpsepreload-decoder"),
	}
}

// Decode parses a raw rule collection. Any error is a schema violation.
func Decode(payload []byte, format Format) ([]*Ruleset, error) {
	return newDecoder().decode(payload, format)
}

func (d *decoder) decode(payload []byte, format Format) ([]*Ruleset, error) {
	if bytes.HasPrefix(payload, gzipMagic) {
		unzipped, err := gunzip(payload)
		if err != nil {
			return nil, schemaError(StageDecode, "", fmt.Errorf("invalid gzip payload: %w", err))
		}
		d.log.Debugf("Decompressed %v bytes of rules into %v bytes", len(payload), len(unzipped))
		payload = unzipped
	}

	if format == FormatAuto || format == "" {
		format = sniff(payload)
	}
	switch format {
	case FormatXML:
		return d.decodeXML(payload)
	case FormatJSON:
		return d.decodeJSON(payload)
	}
	return nil, schemaError(StageDecode, "", fmt.Errorf("unknown input format %q", format))
}

func gunzip(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func sniff(payload []byte) Format {
	trimmed := bytes.TrimLeft(payload, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatXML
	}
	return FormatJSON
}

// decodeJSON accepts either {"rulesets": [...]} or a bare array of rulesets.
func (d *decoder) decodeJSON(payload []byte) ([]*Ruleset, error) {
	trimmed := bytes.TrimSpace(payload)
	var records []json.RawMessage
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, schemaError(StageDecode, "", fmt.Errorf("invalid ruleset array: %w", err))
		}
	case bytes.HasPrefix(trimmed, []byte("{")):
		var wrapper struct {
			Rulesets *[]json.RawMessage `json:"rulesets"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, schemaError(StageDecode, "", fmt.Errorf("invalid ruleset collection: %w", err))
		}
		if wrapper.Rulesets == nil {
			return nil, schemaError(StageDecode, "", errors.New(`collection has no "rulesets" array`))
		}
		records = *wrapper.Rulesets
	default:
		return nil, schemaError(StageDecode, "", errors.New("payload is neither a JSON object nor an array"))
	}

	rulesets := make([]*Ruleset, 0, len(records))
	for i, raw := range records {
		rs := &Ruleset{}
		if err := rs.UnmarshalJSON(raw); err != nil {
			return nil, schemaError(StageDecode, recordLabel(rs.Name, i), err)
		}
		rulesets = append(rulesets, rs)
	}
	d.log.Debugf("Decoded %v JSON rulesets", len(rulesets))
	return rulesets, nil
}

// decodeXML accepts either a <rulesetlibrary> or a single <ruleset> document.
func (d *decoder) decodeXML(payload []byte) ([]*Ruleset, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, schemaError(StageDecode, "", fmt.Errorf("no root element: %w", err))
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "ruleset":
			var x xmlRuleset
			if err := dec.DecodeElement(&x, &start); err != nil {
				return nil, schemaError(StageDecode, recordLabel(x.Name, 0), err)
			}
			return []*Ruleset{x.toRuleset()}, nil
		case "rulesetlibrary":
			var lib xmlLibrary
			if err := dec.DecodeElement(&lib, &start); err != nil {
				return nil, schemaError(StageDecode, "", err)
			}
			rulesets := make([]*Ruleset, 0, len(lib.Rulesets))
			for i := range lib.Rulesets {
				rulesets = append(rulesets, lib.Rulesets[i].toRuleset())
			}
			d.log.Debugf("Decoded %v XML rulesets", len(rulesets))
			return rulesets, nil
		default:
			return nil, schemaError(StageDecode, "", fmt.Errorf("unexpected root element <%v>", start.Name.Local))
		}
	}
}

// decodeDir decodes every regular file in dir, in filename order, and
// concatenates the rulesets. This is the layout of the old per-file rules
// directory.
func (d *decoder) decodeDir(dir string, format Format) ([]*Ruleset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &BuildError{Stage: StageSource, Kind: ErrSource, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var rulesets []*Ruleset
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, &BuildError{Stage: StageSource, Kind: ErrSource, Err: err}
		}
		rs, err := d.decode(b, format)
		if err != nil {
			var be *BuildError
			if errors.As(err, &be) && be.Record == "" {
				be.Record = name
			}
			return nil, err
		}
		rulesets = append(rulesets, rs...)
	}
	d.log.Debugf("Total rule set files: %v", len(names))
	return rulesets, nil
}
