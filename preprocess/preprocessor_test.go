package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getlantern/httpsepreload"
)

const rules = `[
	{"name": "RabbitMQ", "target": ["rabbitmq.com", "*.rabbitmq.com"], "rule": [{"from": "^http:", "to": "https:"}]},
	{"name": "Off", "default_off": "just cuz", "target": ["off.example.org"], "rule": [{"from": "^http:", "to": "https:"}]},
	{"name": "SO", "target": ["stackoverflow.com"],
	 "exclusion": ["^http://stackoverflow\\.com/users/authenticate/"],
	 "rule": [{"from": "^http://stackoverflow\\.com/", "to": "https://stackoverflow.com/"}]}
]`

func TestBuildAndLookup(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "default.rulesets")
	require.NoError(t, os.WriteFile(source, []byte(rules), 0o644))
	store := filepath.Join(dir, "out", "httpse.leveldb")
	document := filepath.Join(dir, "out", "httpse.json")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"--source", source,
		"--allow-unsigned",
		"--store", store,
		"--document", document,
		"build",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "NOTE: Excluding ruleset Off: default off (just cuz)")
	assert.Contains(t, out.String(), "Wrote 3 keys (2 of 3 rulesets)")

	_, err = os.Stat(document)
	require.NoError(t, err)

	out.Reset()
	err = run(context.Background(), []string{"--store", store, "lookup", "www.rabbitmq.com", "stackoverflow.com:443", "example.net"}, &out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `{"host":"www.rabbitmq.com","target":"*.rabbitmq.com","rules":[{"from":"^http:","to":"https:"}]}`, lines[0])
	assert.Equal(t, `{"host":"stackoverflow.com:443","target":"stackoverflow.com","rules":[{"from":"^http://stackoverflow\\.com/","to":"https://stackoverflow.com/"}],"exclusions":["^http://stackoverflow\\.com/users/authenticate/"]}`, lines[1])
	assert.Equal(t, "example.net: no rulesets", lines[2])
}

func TestBuildRefusesExistingStore(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "default.rulesets")
	require.NoError(t, os.WriteFile(source, []byte(rules), 0o644))
	args := []string{
		"--source", source,
		"--allow-unsigned",
		"--store", filepath.Join(dir, "httpse.leveldb"),
		"--document", filepath.Join(dir, "httpse.json"),
	}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), args, &out))
	err := run(context.Background(), args, &out)
	assert.True(t, errors.Is(err, httpsepreload.ErrPersist))
	assert.True(t, errors.Is(err, httpsepreload.ErrStoreExists))
}

func TestRunErrors(t *testing.T) {
	var out bytes.Buffer
	dir := t.TempDir()
	source := filepath.Join(dir, "default.rulesets")
	require.NoError(t, os.WriteFile(source, []byte(rules), 0o644))

	err := run(context.Background(), []string{"--source", source}, &out)
	assert.True(t, errors.Is(err, httpsepreload.ErrConfig), "building without a trust decision should fail")

	err = run(context.Background(), []string{"lookup"}, &out)
	assert.Error(t, err)

	err = run(context.Background(), []string{"--source", source, "--allow-unsigned", "frobnicate"}, &out)
	assert.EqualError(t, err, `unknown command "frobnicate"`)
}
