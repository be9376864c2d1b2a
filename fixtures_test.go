package httpsepreload

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const twoRulesets = `{"rulesets": [
	{"name": "A", "targets": ["example.com"], "rules": [{"from": "^http:", "to": "https:"}]},
	{"name": "B", "targets": ["example.com"],
	 "rules": [{"from": "^http://example.com/old", "to": "https://example.com/new"}],
	 "exclusions": ["^http://example.com/keep"]}
]}`

const twoRulesetsKey = `[{"r":[{"d":1}]},{"r":[{"f":"^http://example.com/old","t":"https://example.com/new"}],"e":[{"p":"^http://example.com/keep"}]}]`

// defaultRulesets is in the shape of https-everywhere's rules/default.rulesets.
const defaultRulesets = `[
	{"name": "RabbitMQ", "target": ["rabbitmq.com", "www.rabbitmq.com"],
	 "rule": [{"from": "^http:", "to": "https:"}]},
	{"name": "RabbitMQ mixed", "platform": "mixedcontent", "target": ["mixed.rabbitmq.com"],
	 "rule": [{"from": "^http:", "to": "https:"}]},
	{"name": "Off", "default_off": "just cuz", "target": ["off.example.org"],
	 "rule": [{"from": "^http:", "to": "https:"}]},
	{"name": "SO", "target": ["stackoverflow.com"],
	 "exclusion": ["^http://(?:\\w+\\.)?stack(?:exchange|overflow)\\.com/users/authenticate/"],
	 "rule": [{"from": "^http:", "to": "https:"}]},
	{"name": "Wikipedia", "target": ["*.wikipedia.org"],
	 "rule": [{"from": "^http://(\\w{2})\\.wikipedia\\.org/wiki/", "to": "https://secure.wikimedia.org/wikipedia/$1/wiki/"}]},
	{"name": "Bundler.io", "target": ["bundler.*"], "rule": [{"from": "^http:", "to": "https:"}]}
]`

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func signingKey(t testing.TB) *rsa.PrivateKey {
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
	})
	return testKey
}

func sign(t testing.TB, payload []byte) []byte {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, signingKey(t), crypto.SHA256, digest[:], nil)
	require.NoError(t, err)
	return sig
}

func publicKeyPEM(t testing.TB) []byte {
	der, err := x509.MarshalPKIXPublicKey(&signingKey(t).PublicKey)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return buf.Bytes()
}

func writeFile(t testing.TB, dir, name string, data []byte) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func normalized(t testing.TB, payload string, exclusions map[string]string) []*NormalizedRuleset {
	rulesets, err := Decode([]byte(payload), FormatAuto)
	require.NoError(t, err)
	n, _, err := Normalize(rulesets, exclusions)
	require.NoError(t, err)
	return n
}
