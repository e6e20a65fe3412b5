// Command pdfnamer scans folders of PDF files and renames each file to
// COMPANY_DESCRIPTION.pdf based on its content.
//
// Usage:
//
//	pdfnamer scan   -folder DIR        preview the renames
//	pdfnamer rename -folder DIR        apply the renames
//	pdfnamer serve  -addr 127.0.0.1:8750   run the web interface
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docforge/pdfnamer/cache"
	"github.com/docforge/pdfnamer/classify"
	"github.com/docforge/pdfnamer/config"
	"github.com/docforge/pdfnamer/observability"
	"github.com/docforge/pdfnamer/ocr"
	"github.com/docforge/pdfnamer/ocr/tesseract"
	"github.com/docforge/pdfnamer/renamer"
	"github.com/docforge/pdfnamer/report"
	"github.com/docforge/pdfnamer/server"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var code int
	switch cmd {
	case "scan":
		code = runScanRename(args, false)
	case "rename":
		code = runScanRename(args, true)
	case "serve":
		code = runServe(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pdfnamer <scan|rename|serve> [flags]")
	fmt.Fprintln(os.Stderr, "  scan    preview renames for a folder")
	fmt.Fprintln(os.Stderr, "  rename  apply renames to a folder")
	fmt.Fprintln(os.Stderr, "  serve   run the local web interface")
}

type commonFlags struct {
	configPath string
	folder     string
	rules      string
	script     string
	cachePath  string
	noOCR      bool
	debug      bool
}

func registerCommon(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.configPath, "config", "", "path to config YAML")
	fs.StringVar(&cf.folder, "folder", "", "folder to process")
	fs.StringVar(&cf.rules, "rules", "", "path to classification rules YAML")
	fs.StringVar(&cf.script, "script", "", "path to a refine.js hook")
	fs.StringVar(&cf.cachePath, "cache", "", "path to the text cache database")
	fs.BoolVar(&cf.noOCR, "no-ocr", false, "disable the OCR fallback")
	fs.BoolVar(&cf.debug, "v", false, "verbose logging")
}

// buildPipeline assembles the renamer from config and flags. The returned
// cleanup closes the cache and OCR engine.
func buildPipeline(cf *commonFlags) (*renamer.Renamer, config.Config, observability.Logger, func(), error) {
	cfg, err := config.Load(cf.configPath)
	if err != nil {
		return nil, cfg, nil, nil, err
	}
	if cf.folder != "" {
		cfg.Folder = cf.folder
	}
	if cf.rules != "" {
		cfg.RulesPath = cf.rules
	}
	if cf.script != "" {
		cfg.ScriptPath = cf.script
	}
	if cf.cachePath != "" {
		cfg.CachePath = cf.cachePath
	}
	if cf.noOCR {
		cfg.OCR.Enabled = false
	}
	if cf.debug {
		cfg.Debug = true
	}

	log, err := observability.NewProduction(cfg.Debug)
	if err != nil {
		return nil, cfg, nil, nil, err
	}

	rules := classify.DefaultRules()
	if cfg.RulesPath != "" {
		if rules, err = classify.LoadRules(cfg.RulesPath); err != nil {
			return nil, cfg, nil, nil, fmt.Errorf("rules: %w", err)
		}
	}
	var classifierOpts []classify.Option
	classifierOpts = append(classifierOpts, classify.WithLogger(log))
	if cfg.ScriptPath != "" {
		hook, err := classify.LoadScript(cfg.ScriptPath)
		if err != nil {
			return nil, cfg, nil, nil, fmt.Errorf("script: %w", err)
		}
		classifierOpts = append(classifierOpts, classify.WithScript(hook))
	}
	if cfg.Ollama.URL != "" && cfg.Ollama.Model != "" {
		classifierOpts = append(classifierOpts,
			classify.WithAssist(classify.NewOllamaAssist(cfg.Ollama.URL, cfg.Ollama.Model)))
	}

	var cleanups []func()
	var store *cache.Store
	if cfg.CachePath != "" {
		if store, err = cache.Open(cfg.CachePath); err != nil {
			return nil, cfg, nil, nil, fmt.Errorf("cache: %w", err)
		}
		cleanups = append(cleanups, func() { store.Close() })
	}

	var engine ocr.Engine
	if cfg.OCR.Enabled {
		eng, err := tesseract.New(cfg.OCR.Languages...)
		if err != nil {
			log.Warn("recognition unavailable, continuing without it", observability.Error(err))
		} else {
			engine = eng
			cleanups = append(cleanups, func() { eng.Close() })
		}
	}

	ren := renamer.New(renamer.Options{
		Classifier: classify.NewClassifier(rules, classifierOpts...),
		Engine:     engine,
		Cache:      store,
		Logger:     log,
		MaxPages:   cfg.MaxPages,
		OCR:        ocr.Options{Languages: cfg.OCR.Languages, Upscale: cfg.OCR.Upscale, Logger: log},
	})
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return ren, cfg, log, cleanup, nil
}

func runScanRename(args []string, apply bool) int {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	var cf commonFlags
	registerCommon(fs, &cf)
	suffix := fs.Bool("suffix", false, "number colliding targets instead of skipping")
	reportPath := fs.String("report", "", "write an HTML report to this file")
	fs.Parse(args)

	ren, cfg, log, cleanup, err := buildPipeline(&cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()
	if cfg.Folder == "" {
		fmt.Fprintln(os.Stderr, "no folder given (use -folder)")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan, err := ren.Scan(ctx, cfg.Folder)
	if err != nil {
		log.Error("scan failed", observability.Error(err))
		return 1
	}
	var sum *renamer.Summary
	if apply {
		s := ren.Apply(ctx, plan, renamer.ApplyOptions{NumericSuffix: *suffix})
		sum = &s
	}
	printPlan(plan, sum)

	if *reportPath != "" {
		html, err := report.HTML(plan, sum)
		if err == nil {
			err = os.WriteFile(*reportPath, html, 0o644)
		}
		if err != nil {
			log.Error("report not written", observability.Error(err))
			return 1
		}
	}
	return 0
}

func printPlan(plan *renamer.Plan, sum *renamer.Summary) {
	for _, e := range plan.Entries {
		switch e.Status {
		case renamer.StatusFailed:
			fmt.Printf("FAIL  %-40s %s\n", trimBase(e.Path), e.Reason)
		case renamer.StatusSkipped:
			fmt.Printf("SKIP  %-40s -> %s (%s)\n", trimBase(e.Path), e.ProposedName, e.Reason)
		case renamer.StatusUnchanged:
			fmt.Printf("OK    %-40s already named\n", trimBase(e.Path))
		case renamer.StatusRenamed:
			fmt.Printf("DONE  %-40s -> %s\n", trimBase(e.Path), e.ProposedName)
		default:
			fmt.Printf("PLAN  %-40s -> %s [%s]\n", trimBase(e.Path), e.ProposedName, e.Source)
		}
	}
	if sum != nil {
		fmt.Printf("\n%d renamed, %d unchanged, %d skipped, %d failed\n",
			sum.Renamed, sum.Unchanged, sum.Skipped, sum.Failed)
	}
}

func trimBase(path string) string {
	if len(path) <= 40 {
		return path
	}
	return "…" + path[len(path)-39:]
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var cf commonFlags
	registerCommon(fs, &cf)
	addr := fs.String("addr", "", "listen address (host:port)")
	fs.Parse(args)

	ren, cfg, log, cleanup, err := buildPipeline(&cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(ren, log).Handler(),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info("listening", observability.String("addr", cfg.Server.Addr))
	fmt.Printf("pdfnamer web interface on http://%s\n", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server stopped", observability.Error(err))
		return 1
	}
	return 0
}
