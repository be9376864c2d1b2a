package httpsepreload

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T, payload string) *IndexReader {
	path := filepath.Join(t.TempDir(), "httpse.leveldb")
	_, err := PersistIndex(BuildIndex(normalized(t, payload, nil)), BackendLevelDB, path)
	require.NoError(t, err)
	ir, err := OpenIndex(BackendLevelDB, path)
	require.NoError(t, err)
	return ir
}

func TestLookupExact(t *testing.T) {
	ir := openTestIndex(t, twoRulesets)
	assert.Equal(t, 1, ir.Len())

	bodies, err := ir.Lookup("example.com")
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.True(t, bodies[0].Rules[0].Upgrade)
	assert.Equal(t, "^http://example.com/old", bodies[1].Rules[0].From)
	assert.Equal(t, []CompactExclusion{{Pattern: "^http://example.com/keep"}}, bodies[1].Exclusions)

	bodies, err = ir.Lookup("example.com:80")
	require.NoError(t, err)
	assert.Len(t, bodies, 2, "port should be ignored")

	bodies, err = ir.Lookup("www.example.com")
	require.NoError(t, err)
	assert.Nil(t, bodies)

	stats := ir.Stats()
	assert.Equal(t, int64(3), stats.Runs)
}

func TestWildcardPrefix(t *testing.T) {
	var rule = `<ruleset name="Bundler.io">
		<target host="*.bundler.io"/>
		<rule from="^http:" to="https:" />
	</ruleset>`
	ir := openTestIndex(t, rule)

	matches, err := ir.LookupAll("subdomain.bundler.io")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "*.bundler.io", matches[0].Target)

	matches, err = ir.LookupAll("deep.subdomain.bundler.io")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	matches, err = ir.LookupAll("bundler.io")
	require.NoError(t, err)
	assert.Empty(t, matches, "a left wildcard does not cover the bare domain")
}

func TestWildcardSuffix(t *testing.T) {
	var rule = `<ruleset name="Bundler.io">
		<target host="bundler.*"/>
		<rule from="^http:" to="https:" />
	</ruleset>`
	ir := openTestIndex(t, rule)

	matches, err := ir.LookupAll("bundler.io")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "bundler.*", matches[0].Target)
	rules, _ := matches[0].Bodies[0].Expand()
	assert.Equal(t, []Rule{{From: "^http:", To: "https:"}}, rules)
}

func TestIgnoreMultipleSubdomains(t *testing.T) {
	var rule = `<ruleset name="RabbitMQ">
        <target host="*.b.rabbitmq.com" />

        <rule from="^http:"
                to="https:" />
</ruleset>`
	ir := openTestIndex(t, rule)

	matches, err := ir.LookupAll("rabbitmq.com")
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = ir.LookupAll("a.b.rabbitmq.com")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestLookupAllOrder(t *testing.T) {
	ir := openTestIndex(t, `[
		{"name": "right", "target": ["www.example.*"], "rule": [{"from": "^http:", "to": "https:"}]},
		{"name": "left", "target": ["*.example.com"], "rule": [{"from": "^http:", "to": "https:"}]},
		{"name": "exact", "target": ["www.example.com"], "rule": [{"from": "^http:", "to": "https:"}]}
	]`)
	matches, err := ir.LookupAll("WWW.example.com")
	require.NoError(t, err)
	var targets []string
	for _, m := range matches {
		targets = append(targets, m.Target)
	}
	assert.Equal(t, []string{"www.example.com", "*.example.com", "www.example.*"}, targets)
}

func TestTargetForms(t *testing.T) {
	assert.Equal(t, []string{"a.b.example.co.uk", "*.b.example.co.uk", "*.example.co.uk", "a.b.example.co.*"},
		targetForms("a.b.example.co.uk"))
	assert.Equal(t, []string{"example.com", "example.*"}, targetForms("example.com."))
	assert.Equal(t, []string{"localhost"}, targetForms("localhost"))
	assert.Nil(t, targetForms(""))
}

func TestKeysUnder(t *testing.T) {
	ir := openTestIndex(t, `[
		{"name": "1", "target": ["example.com", "a.example.com", "*.example.com", "examplex.com", "other.org"],
		 "rule": [{"from": "^http:", "to": "https:"}]}
	]`)
	assert.Equal(t, []string{"com.example", "com.example.*", "com.example.a"}, ir.KeysUnder("example.com"))
	assert.Empty(t, ir.KeysUnder("nothing.net"))
	assert.Equal(t, []string{"com.example", "com.example.*", "com.example.a", "com.examplex", "org.other"}, ir.Keys())
}

func TestExclusions(t *testing.T) {
	var rule = `<ruleset name="SO">

				<target host="stackoverflow.com" />

				<exclusion pattern="^http://(?:\w+\.)?stack(?:exchange|overflow)\.com/users/authenticate/" />
				<rule from="^http:"
								to="https:" />
</ruleset>`
	ir := openTestIndex(t, rule)

	bodies, err := ir.Lookup("stackoverflow.com")
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	rules, exclusions := bodies[0].Expand()
	assert.Equal(t, []Rule{{From: "^http:", To: "https:"}}, rules)
	assert.Equal(t, []string{`^http://(?:\w+\.)?stack(?:exchange|overflow)\.com/users/authenticate/`}, exclusions)
}

func TestComplex(t *testing.T) {
	var rule = `<ruleset name="Wikipedia">
  <target host="*.wikipedia.org" />

  <rule from="^http://(\w{2})\.wikipedia\.org/wiki/"
          to="https://secure.wikimedia.org/wikipedia/$1/wiki/"/>
</ruleset>`
	ir := openTestIndex(t, rule)

	matches, err := ir.LookupAll("fr.wikipedia.org")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	rules, _ := matches[0].Bodies[0].Expand()
	assert.Equal(t, []Rule{{From: `^http://(\w{2})\.wikipedia\.org/wiki/`, To: "https://secure.wikimedia.org/wikipedia/$1/wiki/"}}, rules)
	assert.False(t, matches[0].Bodies[0].Rules[0].Upgrade)
}

func TestIgnoreHTTPRedirect(t *testing.T) {
	var rule = `<ruleset name="SO">

				<target host="stackoverflow.com" />
				<rule from="^https:"
								to="http:" />
</ruleset>`
	ir := openTestIndex(t, rule)

	bodies, err := ir.Lookup("stackoverflow.com")
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	assert.False(t, bodies[0].Rules[0].Upgrade, "only http to https is shortened")
	assert.Equal(t, "^https:", bodies[0].Rules[0].From)
}
