// Command preprocess compiles HTTPS Everywhere rulesets into the preload
// index (a LevelDB store keyed by reverse host plus a flat JSON document), and
// can look hosts up in a finished index.
//
// Usage:
//
//	preprocess [flags] [build]
//	preprocess [flags] lookup <host>...
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/getlantern/golog"
	"github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/getlantern/httpsepreload"
)

var log = golog.LoggerFor("httpsepreload-preprocess")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Build failed: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("preprocess", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file (default preload.yaml in . or configs/)")
	httpsepreload.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd, rest := "build", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "build":
		cfg, err := httpsepreload.LoadConfig(*configFile, fs)
		if err != nil {
			return err
		}
		return build(ctx, cfg, out)
	case "lookup":
		if len(rest) == 0 {
			return errors.New("lookup needs at least one host")
		}
		store, _ := fs.GetString("store")
		backendName, _ := fs.GetString("backend")
		backend, err := httpsepreload.ParseBackend(backendName)
		if err != nil {
			return err
		}
		return lookup(store, backend, rest, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func build(ctx context.Context, cfg *httpsepreload.Config, out io.Writer) error {
	p, err := httpsepreload.NewPipeline(cfg)
	if err != nil {
		return err
	}
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "NOTE: Excluding ruleset %v: %v\n", s.Name, s.Reason)
	}
	fmt.Fprintf(out, "Wrote %v keys (%v of %v rulesets) to %v and %v in %v\n",
		res.Keys, res.Included, res.Rulesets, res.Store, res.Document, res.Duration)
	return nil
}

type lookupResult struct {
	Host    string       `json:"host"`
	Target  string       `json:"target"`
	Rules   []lookupRule `json:"rules"`
	Exclude []string     `json:"exclusions,omitempty"`
}

type lookupRule struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func lookup(path string, backend httpsepreload.Backend, hosts []string, out io.Writer) error {
	ir, err := httpsepreload.OpenIndex(backend, path)
	if err != nil {
		return fmt.Errorf("open %v: %w", path, err)
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for _, host := range hosts {
		matches, err := ir.LookupAll(host)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Fprintf(out, "%v: no rulesets\n", host)
			continue
		}
		for _, m := range matches {
			for _, body := range m.Bodies {
				rules, exclusions := body.Expand()
				res := lookupResult{Host: host, Target: m.Target, Exclude: exclusions}
				for _, r := range rules {
					res.Rules = append(res.Rules, lookupRule{From: r.From, To: r.To})
				}
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
		}
	}
	stats := ir.Stats()
	log.Debugf("%v lookups, max %v for %v", stats.Runs, stats.Max, stats.MaxHost)
	return nil
}
