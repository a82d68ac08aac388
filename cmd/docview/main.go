package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alefaraci/docview"
	"github.com/alefaraci/docview/pdfdoc"
	"github.com/alefaraci/docview/server"
	"github.com/alefaraci/docview/textdoc"
)

func main() {
	var input, output, configPath, annotations, exportDir, password string
	var vector, watch, serve, verbose bool

	flag.StringVar(&input, "i", "", "Input document (.pdf, .txt, .md or .html)")
	flag.StringVar(&input, "input", "", "Input document (.pdf, .txt, .md or .html)")
	flag.StringVar(&output, "o", "", "Output file (.pdf)")
	flag.StringVar(&output, "output", "", "Output file (.pdf)")
	flag.StringVar(&annotations, "annotations", "", "Annotations file (TOML) to burn into the output")
	flag.StringVar(&password, "password", "", "Password for encrypted PDFs")
	flag.StringVar(&exportDir, "export-dir", "", "Directory receiving exports in --serve mode")
	flag.BoolVar(&vector, "vector", false, "Trace annotations into vector outlines")
	flag.StringVar(&configPath, "config", "config.toml", "Path to config file (TOML)")
	flag.BoolVar(&watch, "watch", false, "Re-export whenever the input changes")
	flag.BoolVar(&serve, "serve", false, "Serve the document over HTTP")
	flag.BoolVar(&verbose, "v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := docview.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if vector {
		cfg.Export.Vector = true
	}

	if input == "" || (output == "" && !serve) {
		fmt.Fprintln(os.Stderr, "Usage: docview -i <input> -o <output.pdf> [--annotations a.toml] [--vector] [--watch] [--config config.toml]")
		fmt.Fprintln(os.Stderr, "       docview -i <input> --serve [--export-dir dir] [--config config.toml]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if output != "" && !strings.HasSuffix(strings.ToLower(output), ".pdf") {
		fmt.Fprintf(os.Stderr, "Error: output file '%s' must have a .pdf extension\n", output)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg, runOptions{
		input:       input,
		output:      output,
		annotations: annotations,
		password:    password,
		exportDir:   exportDir,
		watch:       watch,
		serve:       serve,
	}); err != nil {
		log.Error("docview failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	input, output, annotations, password, exportDir string
	watch, serve                                    bool
}

// engineFor picks the engine that opens path.
func engineFor(path string, log *slog.Logger) (docview.Engine, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pdfdoc.New(log), nil
	}
	if textdoc.Supports(path) {
		return textdoc.New(), nil
	}
	return nil, fmt.Errorf("input file '%s' has an unsupported extension", path)
}

func readInput(path string) (*bytes.Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func run(ctx context.Context, log *slog.Logger, cfg *docview.Config, o runOptions) error {
	engine, err := engineFor(o.input, log)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(o.input)
	if err != nil {
		return err
	}

	var state *docview.State
	if cfg.State.Path != "" {
		if state, err = docview.LoadState(cfg.State.Path); err != nil {
			return err
		}
	}

	r, err := readInput(abs)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	session, err := docview.Open(ctx, engine, "file://"+abs, r, r.Size(), abs, docview.SessionOptions{
		Cache: docview.CacheOptions{
			Layout:     cfg.Layout.Params(),
			Resolution: cfg.Render.Resolution,
		},
		Presets:   cfg.Presets(),
		Color:     cfg.ToolColor(),
		NightMode: cfg.Render.NightMode,
		Paper:     cfg.PaperColor(),
		Export: docview.ExportOptions{
			Width:     cfg.Export.Width,
			Height:    cfg.Export.Height,
			Vector:    cfg.Export.Vector,
			TurdSize:  cfg.Export.TraceTurdSize,
			Links:     cfg.Export.Links,
			Highlight: cfg.Export.Highlight,
		},
		State:  state,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("opening '%s': %w", o.input, err)
	}
	defer session.Close()

	if session.NeedsPassword() && o.password != "" && !session.Authenticate(o.password) {
		return errors.New("wrong password")
	}
	if o.annotations != "" {
		if err := docview.LoadAnnotationsFile(o.annotations, session.Store()); err != nil {
			return err
		}
	}

	if o.serve {
		return serveHTTP(ctx, log, cfg, session, o.exportDir)
	}
	if session.NeedsPassword() {
		return docview.ErrPasswordRequired
	}

	if err := exportOnce(ctx, log, session, o.output); err != nil {
		return err
	}
	if !o.watch {
		return nil
	}

	log.Info("watching for changes", "path", abs)
	err = docview.WatchFile(ctx, abs, docview.WatchOptions{
		Debounce:     cfg.Watch.Debounce(),
		PollInterval: cfg.Watch.PollDuration(),
		Logger:       log,
	}, func(path string) {
		r, err := readInput(path)
		if err != nil {
			log.Error("reading changed input", "path", path, "error", err)
			return
		}
		if err := session.Reload(r, r.Size()); err != nil {
			log.Error("reloading", "path", path, "error", err)
			return
		}
		if err := exportOnce(ctx, log, session, o.output); err != nil {
			log.Error("exporting", "path", path, "error", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func exportOnce(ctx context.Context, log *slog.Logger, session *docview.Session, output string) error {
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	start := time.Now()
	res, err := session.Export(ctx, output, func(p docview.ExportProgress) {
		if p.Err != nil {
			log.Warn("page skipped", "page", p.Page+1, "error", p.Err)
		}
	})
	if err != nil {
		return err
	}
	log.Info("exported",
		"output", output,
		"pages", res.Pages,
		"skipped", len(res.Skipped),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func serveHTTP(ctx context.Context, log *slog.Logger, cfg *docview.Config, session *docview.Session, exportDir string) error {
	srv := server.New(session, log, server.Options{ExportDir: exportDir})
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting docview", "addr", cfg.Server.Addr, "document", session.URI())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
