package httpsepreload

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/getlantern/golog"
	"github.com/getlantern/mtime"
)

var (
	log = golog.LoggerFor("httpsepreload")
)

// Input is a raw rule collection as handed over by whatever fetched it.
// Signature is the detached signature over Payload, if the source has one.
type Input struct {
	Payload   []byte
	Signature []byte
}

// Result summarizes a successful build.
type Result struct {
	Rulesets int
	Included int
	Skipped  []Skipped
	Keys     int
	Bodies   int
	Verified bool
	Store    string
	Document string
	Duration time.Duration
}

// Pipeline runs builds for one configuration. Each build is a full rebuild:
// authenticate, decode, normalize, index, persist.
type Pipeline struct {
	cfg     *Config
	backend Backend
	format  Format
	key     *rsa.PublicKey
	metrics *buildMetrics
}

// NewPipeline prepares a pipeline, loading the public key if one is
// configured.
func NewPipeline(cfg *Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	backend, _ := ParseBackend(cfg.Output.Backend)
	format, _ := ParseFormat(cfg.Source.Format)
	p := &Pipeline{
		cfg:     cfg,
		backend: backend,
		format:  format,
		metrics: newBuildMetrics(),
	}
	if cfg.Source.PublicKey != "" {
		key, err := LoadPublicKey(cfg.Source.PublicKey)
		if err != nil {
			return nil, configError(err)
		}
		p.key = key
	}
	return p, nil
}

// Run builds from the configured source path.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := mtime.Now()
	res, err := p.run(ctx)
	return p.finish(start, res, err)
}

// Build builds from an in-memory payload.
func (p *Pipeline) Build(ctx context.Context, in Input) (*Result, error) {
	start := mtime.Now()
	res, err := p.build(ctx, in)
	return p.finish(start, res, err)
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	path := p.cfg.Source.Path
	info, err := os.Stat(path)
	if err != nil {
		return nil, sourceError(err)
	}
	if !info.IsDir() {
		in, err := p.readInput(path)
		if err != nil {
			return nil, err
		}
		return p.build(ctx, in)
	}

	// A directory of ruleset files has no single payload to sign.
	if p.key != nil {
		return nil, configError(fmt.Errorf("%v is a directory and cannot be verified", path))
	}
	log.Debugf("Building from unsigned rules directory %v", path)
	rulesets, err := newDecoder().decodeDir(path, p.format)
	if err != nil {
		return nil, err
	}
	return p.compile(ctx, rulesets, false)
}

func (p *Pipeline) readInput(path string) (Input, error) {
	var in Input
	payload, err := os.ReadFile(path)
	if err != nil {
		return in, sourceError(err)
	}
	in.Payload = payload
	if p.key == nil {
		return in, nil
	}
	sig, err := os.ReadFile(p.cfg.Source.Signature)
	if err != nil {
		if os.IsNotExist(err) {
			return in, authError(fmt.Errorf("no signature at %v", p.cfg.Source.Signature))
		}
		return in, sourceError(err)
	}
	in.Signature = sig
	return in, nil
}

func (p *Pipeline) build(ctx context.Context, in Input) (*Result, error) {
	verified := false
	if p.key != nil {
		if err := Verify(in.Payload, in.Signature, p.key); err != nil {
			return nil, err
		}
		verified = true
		log.Debugf("Verified signature over %v bytes", len(in.Payload))
	} else {
		log.Debugf("Signature check disabled by configuration, trusting %v unsigned bytes", len(in.Payload))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rulesets, err := newDecoder().decode(in.Payload, p.format)
	if err != nil {
		return nil, err
	}
	return p.compile(ctx, rulesets, verified)
}

func (p *Pipeline) compile(ctx context.Context, rulesets []*Ruleset, verified bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, skipped, err := Normalize(rulesets, p.cfg.Exclusions)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		p.metrics.rulesets.WithLabelValues(s.Cause).Inc()
	}
	p.metrics.rulesets.WithLabelValues("included").Add(float64(len(normalized)))

	ix := BuildIndex(normalized)
	doc := BuildDocument(normalized)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys, err := PersistIndex(ix, p.backend, p.cfg.Output.Store)
	if err != nil {
		return nil, err
	}
	if err := doc.WriteFile(p.cfg.Output.Document); err != nil {
		// The store is only useful alongside its document.
		if rerr := os.RemoveAll(p.cfg.Output.Store); rerr != nil {
			log.Errorf("Unable to remove store %v: %v", p.cfg.Output.Store, rerr)
		}
		return nil, persistError(fmt.Errorf("write document: %w", err))
	}

	if verified {
		p.metrics.verified.Set(1)
	}
	p.metrics.keys.Set(float64(keys))
	p.metrics.bodies.Set(float64(ix.BodyCount()))
	return &Result{
		Rulesets: len(rulesets),
		Included: len(normalized),
		Skipped:  skipped,
		Keys:     keys,
		Bodies:   ix.BodyCount(),
		Verified: verified,
		Store:    p.cfg.Output.Store,
		Document: p.cfg.Output.Document,
	}, nil
}

func (p *Pipeline) finish(start mtime.Instant, res *Result, err error) (*Result, error) {
	elapsed := mtime.Now().Sub(start)
	p.metrics.duration.Set(elapsed.Seconds())
	if err != nil {
		stage := "cancel"
		var be *BuildError
		if errors.As(err, &be) {
			stage = be.Stage
		}
		p.metrics.failures.WithLabelValues(stage).Inc()
	} else {
		res.Duration = elapsed
		p.metrics.lastSuccess.SetToCurrentTime()
		log.Debugf("Built %v keys from %v of %v rulesets in %v", res.Keys, res.Included, res.Rulesets, elapsed)
	}
	if merr := p.metrics.writeTo(p.cfg.MetricsFile); merr != nil {
		log.Errorf("Unable to write metrics to %v: %v", p.cfg.MetricsFile, merr)
	}
	return res, err
}

func sourceError(err error) *BuildError {
	return &BuildError{Stage: StageSource, Kind: ErrSource, Err: err}
}
