package httpsepreload

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/golog"
	"github.com/getlantern/mtime"
	"github.com/goccy/go-json"
	iradix "github.com/hashicorp/go-immutable-radix"
	"golang.org/x/net/publicsuffix"
)

// IndexReader answers lookups against a built index. The whole store is loaded
// into an immutable radix tree keyed by reverse host, so keys sharing a
// domain suffix are adjacent.
type IndexReader struct {
	log   golog.Logger
	tree  *iradix.Tree
	stats *lookupStats
}

// Match is the set of bodies stored under one target form of a host.
type Match struct {
	Target string
	Bodies []Body
}

// LookupStats summarizes lookup timings.
type LookupStats struct {
	Runs    int64
	Total   time.Duration
	Max     time.Duration
	MaxHost string
}

type lookupStats struct {
	mx sync.Mutex
	LookupStats
}

// OpenIndex loads the store at path.
func OpenIndex(backend Backend, path string) (*IndexReader, error) {
	r, err := OpenReader(backend, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return LoadIndex(r)
}

// LoadIndex loads every key of r. r is not retained.
func LoadIndex(r Reader) (*IndexReader, error) {
	start := mtime.Now()
	txn := iradix.New().Txn()
	err := r.Iterate(func(key, value []byte) error {
		txn.Insert(append([]byte(nil), key...), append([]byte(nil), value...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ir := &IndexReader{
		log:   golog.LoggerFor("httpsepreload-lookup"),
		tree:  txn.Commit(),
		stats: &lookupStats{},
	}
	ir.log.Debugf("Loaded %v keys in %v", ir.tree.Len(), mtime.Now().Sub(start))
	return ir, nil
}

// Len returns the number of keys in the index.
func (ir *IndexReader) Len() int {
	return ir.tree.Len()
}

// Lookup returns the bodies stored for exactly host, or nil.
func (ir *IndexReader) Lookup(host string) ([]Body, error) {
	start := mtime.Now()
	defer func() {
		ir.stats.add(host, mtime.Now().Sub(start))
	}()
	return ir.get(withoutPort(host))
}

func (ir *IndexReader) get(target string) ([]Body, error) {
	v, ok := ir.tree.Get([]byte(ReverseHost(target)))
	if !ok {
		return nil, nil
	}
	var bodies []Body
	if err := json.Unmarshal(v.([]byte), &bodies); err != nil {
		return nil, fmt.Errorf("corrupt entry for %v: %w", target, err)
	}
	return bodies, nil
}

// LookupAll returns the bodies for every target form that covers host: the
// host itself, then left wildcards for each ancestor down to the registrable
// domain, then the right wildcard replacing the last label.
func (ir *IndexReader) LookupAll(host string) ([]Match, error) {
	start := mtime.Now()
	defer func() {
		ir.stats.add(host, mtime.Now().Sub(start))
	}()

	var matches []Match
	for _, target := range targetForms(withoutPort(host)) {
		bodies, err := ir.get(target)
		if err != nil {
			return nil, err
		}
		if len(bodies) > 0 {
			matches = append(matches, Match{Target: target, Bodies: bodies})
		}
	}
	return matches, nil
}

// Keys returns every stored reverse key in sorted order.
func (ir *IndexReader) Keys() []string {
	keys := make([]string, 0, ir.tree.Len())
	ir.tree.Root().Walk(func(k []byte, _ interface{}) bool {
		keys = append(keys, string(k))
		return false
	})
	return keys
}

// KeysUnder returns every stored reverse key for domain and its subdomains,
// in sorted order.
func (ir *IndexReader) KeysUnder(domain string) []string {
	prefix := ReverseHost(domain)
	var keys []string
	ir.tree.Root().WalkPrefix([]byte(prefix), func(k []byte, _ interface{}) bool {
		key := string(k)
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			keys = append(keys, key)
		}
		return false
	})
	return keys
}

// Stats returns a snapshot of lookup timings.
func (ir *IndexReader) Stats() LookupStats {
	ir.stats.mx.Lock()
	defer ir.stats.mx.Unlock()
	return ir.stats.LookupStats
}

func (s *lookupStats) add(host string, dur time.Duration) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.Runs++
	s.Total += dur
	if dur > s.Max {
		s.Max = dur
		s.MaxHost = host
	}
}

// targetForms lists the target patterns a ruleset could use to cover host.
func targetForms(host string) []string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return nil
	}
	forms := []string{host}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return forms
	}

	// Left wildcards stop at the registrable domain; "*.co.uk" would be a
	// ruleset for a public suffix.
	minLabels := 2
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		minLabels = strings.Count(etld1, ".") + 1
	}
	for i := 1; len(labels)-i >= minLabels; i++ {
		forms = append(forms, "*."+strings.Join(labels[i:], "."))
	}
	forms = append(forms, strings.Join(labels[:len(labels)-1], ".")+".*")
	return forms
}

func withoutPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
