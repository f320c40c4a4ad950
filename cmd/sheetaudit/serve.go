package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/pavelanni/sheetaudit/internal/analysis"
	"github.com/pavelanni/sheetaudit/internal/handler"
	appI18n "github.com/pavelanni/sheetaudit/internal/i18n"
	"github.com/pavelanni/sheetaudit/internal/metrics"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the submission analysis HTTP service",
		RunE:  runServe,
	}
	addAnalysisFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /audit)")
	f.Int64("max-upload", 20<<20, "Largest accepted submission in bytes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := initLanguage(lang); err != nil {
		return err
	}

	rt, err := newRuntime(ctx, v)
	if err != nil {
		return err
	}
	defer rt.Close()

	tmpl, err := analysis.OpenTemplate(v.GetString("template"), rt.cfg.Layout)
	if err != nil {
		return err
	}

	rec := metrics.New()
	opts := []handler.Option{
		handler.WithMetrics(rec),
		handler.WithMaxUpload(v.GetInt64("max-upload")),
	}
	reviewer, err := rt.reviewer()
	if err != nil {
		return err
	}
	if reviewer != nil {
		if err := reviewer.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		opts = append(opts, handler.WithReviewer(reviewer))
	}

	h, err := handler.New(rt.analyzer(rec), tmpl, rt.history, opts...)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	go reloadOnHangup(ctx, rt)

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"lang", lang,
			"locales", appI18n.Languages(),
			"base_path", basePath,
			"questions", len(tmpl.Questions),
			"review", reviewer != nil,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reloadOnHangup rereads the issued-copy registry on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, rt *runtime) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := rt.reloadRegistry(ctx); err != nil {
				slog.Warn("issued-copy registry reload incomplete", "error", err)
			}
		}
	}
}
