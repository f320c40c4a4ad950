package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/pavelanni/sheetaudit/internal/analysis"
	"github.com/pavelanni/sheetaudit/internal/audit"
	"github.com/pavelanni/sheetaudit/internal/contenthash"
	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/history"
	"github.com/pavelanni/sheetaudit/internal/llm"
	"github.com/pavelanni/sheetaudit/internal/llm/prompts"
	"github.com/pavelanni/sheetaudit/internal/signature"
	"github.com/pavelanni/sheetaudit/internal/store"
)

// runtime is the wiring shared by the commands that analyze submissions.
type runtime struct {
	v        *viper.Viper
	cfg      analysis.Config
	db       *store.Store
	history  history.Store
	ledger   audit.Ledger
	registry *contenthash.Holder
	signer   *signature.Signer
	detector *detect.Detector
}

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newSigner returns nil without error when no secret is configured.
func newSigner(v *viper.Viper, cfg analysis.Config) (*signature.Signer, error) {
	secret := v.GetString("secret")
	if secret == "" {
		return nil, nil
	}
	return signature.New([]byte(secret), signature.WithLayout(cfg.Layout))
}

func newRuntime(ctx context.Context, v *viper.Viper) (*runtime, error) {
	rt := &runtime{v: v, cfg: analysis.DefaultConfig()}
	if n := v.GetInt("min-rows"); n > 0 {
		rt.cfg.Layout.MinRows = n
	}

	db, err := openStore(v)
	if err != nil {
		return nil, err
	}
	rt.db = db

	rt.history, err = historyStore(v, db)
	if err != nil {
		rt.Close()
		return nil, err
	}

	ledgers := audit.Tee{db.Ledger()}
	if path := v.GetString("audit-csv"); path != "" {
		ledgers = append(ledgers, audit.NewCSVLedger(path))
	}
	rt.ledger = ledgers

	rt.registry = contenthash.NewHolder(nil)
	if err := rt.reloadRegistry(ctx); err != nil {
		slog.Warn("issued-copy registry incomplete", "error", err)
	}

	rt.signer, err = newSigner(v, rt.cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if rt.signer == nil {
		slog.Warn("no signing secret configured, cell signatures will not be checked")
	}

	rt.detector, err = newDetector(v)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// reloadRegistry rebuilds the registry from the database and the issued-copy
// CSV files, then swaps it in.
func (rt *runtime) reloadRegistry(ctx context.Context) error {
	fromDB, dbErr := rt.db.Registry(ctx)
	if fromDB == nil {
		fromDB = contenthash.NewRegistry()
	}
	fromFiles, fileErr := contenthash.LoadFiles(rt.v.GetStringSlice("issued")...)
	reg := fromDB.Merge(fromFiles)
	rt.registry.Store(reg)
	slog.Info("issued-copy registry loaded", "students", reg.Len())
	return errors.Join(dbErr, fileErr)
}

func newDetector(v *viper.Viper) (*detect.Detector, error) {
	cfg := detect.DefaultConfig()
	if v.IsSet("detect") {
		if err := v.UnmarshalKey("detect", &cfg); err != nil {
			return nil, fmt.Errorf("read detect settings: %w", err)
		}
	}
	// A missing corpus or dataset only disables its detection stage.
	var opts []detect.Option
	if path := v.GetString("corpus"); path != "" {
		if c, err := detect.LoadCorpus(path); err != nil {
			slog.Warn("course corpus unavailable", "path", path, "error", err)
		} else {
			opts = append(opts, detect.WithCorpus(c))
		}
	}
	if path := v.GetString("references"); path != "" {
		if rs, err := detect.LoadReferences(path); err != nil {
			slog.Warn("reference dataset unavailable", "path", path, "error", err)
		} else {
			opts = append(opts, detect.WithReferences(rs))
		}
	}
	return detect.New(cfg, opts...), nil
}

func (rt *runtime) analyzer(obs analysis.Observer) *analysis.Analyzer {
	return analysis.New(rt.cfg, analysis.Deps{
		Signer:   rt.signer,
		Registry: rt.registry,
		Detector: rt.detector,
		History:  rt.history,
		Ledger:   rt.ledger,
		Observer: obs,
		Logger:   slog.Default(),
	})
}

// reviewer returns nil unless reviews are enabled.
func (rt *runtime) reviewer() (*llm.Client, error) {
	if !rt.v.GetBool("review") {
		return nil, nil
	}
	variant := strings.ToLower(strings.TrimSpace(rt.v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.Standard)
	}
	c, err := llm.New(rt.v.GetString("llm-url"), rt.v.GetString("llm-key"), rt.v.GetString("llm-model"), prompts.Variant(variant))
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return c, nil
}

func (rt *runtime) Close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
}

// outputWriter opens path for writing, stdout for "" or "-".
func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}
