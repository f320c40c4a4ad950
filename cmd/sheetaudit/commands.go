package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/sheetaudit/internal/analysis"
	"github.com/pavelanni/sheetaudit/internal/audit"
	"github.com/pavelanni/sheetaudit/internal/contenthash"
	"github.com/pavelanni/sheetaudit/internal/history"
	appI18n "github.com/pavelanni/sheetaudit/internal/i18n"
	"github.com/pavelanni/sheetaudit/internal/issue"
	"github.com/pavelanni/sheetaudit/internal/model"
	"github.com/pavelanni/sheetaudit/internal/report"
	"github.com/pavelanni/sheetaudit/internal/store"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

func addAnalysisFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("template", "t", "template.xlsx", "Answer template workbook")
	f.StringSlice("issued", []string{"hash_records*.csv"}, "Issued-copy CSV files (globs, repeatable)")
	f.String("history-dir", "", "Keep histories as JSON files in this directory instead of the database")
	f.String("audit-csv", "audit_log.csv", "Append audit records to this CSV file (empty to disable)")
	f.String("corpus", "", "Course text used to detect copied answers")
	f.String("references", "", "Labeled answers CSV used to detect generated answers")
	f.Int("min-rows", 0, "Answer rows covered even when a sheet is shorter")
	f.StringP("lang", "l", "en", "Report language (en, fr)")
	f.Bool("review", false, "Ask the language model for a second opinion on suspected AI answers")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", "standard", "Review prompt variant (strict, standard, lenient)")
}

func issueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Generate signed personal copies of the template for a roster",
		RunE:  runIssue,
	}
	f := cmd.Flags()
	f.StringP("template", "t", "template.xlsx", "Answer template workbook")
	f.StringP("roster", "r", "roster.csv", "Roster CSV (id, last name, first name)")
	f.StringP("out", "o", "copies", "Output directory for the copies")
	f.String("records", "hash_records.csv", "Issued-copy CSV to write")
	f.String("template-version", "v1", "Template version stamped into signatures")
	f.String("class", "", "Class name recorded with the batch")
	f.Int("concurrency", 4, "Copies generated in parallel")
	return cmd
}

func runIssue(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	cfg := analysis.DefaultConfig()
	signer, err := newSigner(v, cfg)
	if err != nil {
		return err
	}
	if signer == nil {
		return fmt.Errorf("a signing secret is required: set --secret or SHEETAUDIT_SECRET")
	}
	iss, err := issue.New(issue.Config{
		Layout:          cfg.Layout,
		IDCell:          cfg.IDCell,
		HashCell:        cfg.HashCell,
		TemplateVersion: v.GetString("template-version"),
	}, signer, slog.Default())
	if err != nil {
		return err
	}

	tmpl, err := os.ReadFile(v.GetString("template"))
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	rf, err := os.Open(v.GetString("roster"))
	if err != nil {
		return fmt.Errorf("open roster: %w", err)
	}
	roster, err := issue.ReadRoster(rf)
	rf.Close()
	if err != nil {
		return err
	}

	now := time.Now()
	recs, issueErr := iss.IssueAll(ctx, tmpl, roster, issue.Options{OutDir: v.GetString("out"), Limit: v.GetInt("concurrency")})

	w, closeOut, err := outputWriter(v.GetString("records"))
	if err != nil {
		return err
	}
	if err := contenthash.WriteRecords(w, recs); err != nil {
		closeOut()
		return fmt.Errorf("write issued-copy records: %w", err)
	}
	if err := closeOut(); err != nil {
		return err
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InsertIssuedCopies(ctx, now, recs...); err != nil {
		return err
	}
	if err := db.SetIssueInfo(model.IssueInfo{
		TemplateVersion: v.GetString("template-version"),
		Class:           v.GetString("class"),
		IssuedAt:        now,
		Copies:          len(recs),
	}); err != nil {
		return err
	}
	slog.Info("copies issued", "count", len(recs), "roster", len(roster), "out", v.GetString("out"))
	return issueErr
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE...",
		Short: "Check the cell signatures of returned workbooks",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runVerify,
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	signer, err := newSigner(v, analysis.DefaultConfig())
	if err != nil {
		return err
	}
	if signer == nil {
		return fmt.Errorf("a signing secret is required: set --secret or SHEETAUDIT_SECRET")
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	var failed int
	for _, path := range args {
		doc, err := workbook.OpenXLSX(path)
		if err != nil {
			slog.Error("workbook not readable", "file", path, "error", err)
			failed++
			continue
		}
		ver := signer.Verify(doc)
		doc.Close()
		if err := enc.Encode(map[string]any{"file": filepath.Base(path), "verification": ver}); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d workbook(s) could not be read", failed)
	}
	return nil
}

func hashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash FILE...",
		Short: "Recompute content hashes and check them against the issued copies",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runHash,
	}
	cmd.Flags().StringSlice("issued", []string{"hash_records*.csv"}, "Issued-copy CSV files (globs, repeatable)")
	return cmd
}

func runHash(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	reg, err := db.Registry(ctx)
	if err != nil {
		return err
	}
	files, err := contenthash.LoadFiles(v.GetStringSlice("issued")...)
	if err != nil {
		slog.Warn("issued-copy files incomplete", "error", err)
	}
	reg = reg.Merge(files)

	cfg := analysis.DefaultConfig()
	hasher := contenthash.NewHasher(cfg.HashCell)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, path := range args {
		doc, err := workbook.OpenXLSX(path)
		if err != nil {
			return err
		}
		sheet := doc.MainSheet()
		id := analysis.Identity{
			DeclaredID:   workbook.ReadText(doc, sheet, cfg.IDCell),
			DeclaredHash: workbook.ReadText(doc, sheet, cfg.HashCell),
			ExpectedID:   contenthash.ExpectedID(filepath.Base(path)),
		}
		id.RecomputedHash = hasher.Sum(doc, id.DeclaredID)
		doc.Close()
		verdict, msg := analysis.Authenticate(id, reg)
		if err := enc.Encode(map[string]any{
			"file":          filepath.Base(path),
			"identity":      id,
			"authenticity":  verdict,
			"message":       msg,
			"issued_hashes": reg.Hashes(id.DeclaredID),
		}); err != nil {
			return err
		}
	}
	return nil
}

// initLanguage loads the locales and warns when lang has none of its own.
func initLanguage(lang string) error {
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	available := appI18n.Languages()
	if !slices.Contains(available, lang) {
		slog.Warn("no locale for language, using the closest match",
			"lang", lang, "match", appI18n.Match(lang), "available", available)
	}
	return nil
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyze submitted workbooks and write their reports",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAnalyze,
	}
	addAnalysisFlags(cmd)
	f := cmd.Flags()
	f.String("format", "text", "Report format (text, json)")
	f.StringP("out", "o", "", "Write one report per submission into this directory instead of stdout")
	f.Int("concurrency", 4, "Students analyzed in parallel")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	lang := v.GetString("lang")
	if err := initLanguage(lang); err != nil {
		return err
	}
	rctx := appI18n.WithLanguage(ctx, lang)

	rt, err := newRuntime(ctx, v)
	if err != nil {
		return err
	}
	defer rt.Close()

	tmpl, err := analysis.OpenTemplate(v.GetString("template"), rt.cfg.Layout)
	if err != nil {
		return err
	}
	reviewer, err := rt.reviewer()
	if err != nil {
		return err
	}

	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	items := rt.analyzer(nil).AnalyzeFiles(ctx, paths, tmpl, v.GetInt("concurrency"))

	format := strings.ToLower(v.GetString("format"))
	outDir := v.GetString("out")
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	var failed int
	for _, item := range items {
		if item.Err != nil {
			failed++
			fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Td(rctx, "AnalysisFailed", map[string]any{"Error": item.Err.Error()}))
			continue
		}
		rep := report.Build(item.Result)
		if reviewer != nil {
			rep.AttachOpinions(reviewer.ReviewSuspects(ctx, item.Result.Diff.Matrix))
		}
		if err := emitReport(rctx, cmd.OutOrStdout(), outDir, format, rep); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d submission(s) could not be analyzed", failed, len(items))
	}
	return nil
}

// expandPaths replaces directories by the xlsx files they contain.
func expandPaths(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil || !info.IsDir() {
			out = append(out, a)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(a, "*.xlsx"))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

func emitReport(ctx context.Context, stdout io.Writer, outDir, format string, rep report.Report) error {
	w := stdout
	if outDir != "" {
		ext := ".txt"
		if format == "json" {
			ext = ".json"
		}
		name := strings.TrimSuffix(rep.Filename, filepath.Ext(rep.Filename)) + ".report" + ext
		f, err := os.Create(filepath.Join(outDir, name))
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		w = f
	}
	if format == "json" {
		return report.WriteJSON(w, rep)
	}
	if err := report.WriteText(ctx, w, rep); err != nil {
		return err
	}
	if outDir == "" {
		_, err := fmt.Fprintln(w)
		return err
	}
	return nil
}

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline STUDENT",
		Short: "Print the value history of a student's answer cells",
		Args:  cobra.ExactArgs(1),
		RunE:  runTimeline,
	}
	f := cmd.Flags()
	f.String("history-dir", "", "Read histories from JSON files in this directory instead of the database")
	f.Bool("all", false, "Include cells that never changed")
	return cmd
}

func historyStore(v *viper.Viper, db *store.Store) (history.Store, error) {
	if dir := v.GetString("history-dir"); dir != "" {
		return history.NewFileStore(dir)
	}
	return db.History(), nil
}

func runTimeline(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	hist, err := historyStore(v, db)
	if err != nil {
		return err
	}
	entries, err := hist.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no submission recorded for student %s", args[0])
	}

	tl := history.BuildTimeline(entries)
	addrs := tl.Changed()
	if v.GetBool("all") {
		addrs = tl.Addresses()
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d submission(s), last %s\n", args[0], len(entries), entries[len(entries)-1].Timestamp.Format(time.RFC3339))
	for _, a := range addrs {
		fmt.Fprintln(w, a)
		for _, p := range tl[a] {
			fmt.Fprintf(w, "  %s  %q\n", p.Timestamp.Format(time.RFC3339), p.Value)
		}
	}
	return nil
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge STUDENT",
		Short: "Delete the submission history of a student",
		Args:  cobra.ExactArgs(1),
		RunE:  runPurge,
	}
	f := cmd.Flags()
	f.String("history-dir", "", "Purge the JSON history file in this directory instead of the database")
	f.Bool("yes", false, "Confirm the deletion")
	return cmd
}

func runPurge(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	if !v.GetBool("yes") {
		return errors.New("refusing to purge without --yes")
	}
	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	hist, err := historyStore(v, db)
	if err != nil {
		return err
	}
	ok, err := hist.Purge(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no history for student %s", args[0])
	}
	slog.Info("history purged", "student", args[0])
	return nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export histories and audit records",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("format", "json", "Export format (json, csv)")
	f.String("student", "", "Only export this student (csv only)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	w, closeOut, err := outputWriter(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()

	switch strings.ToLower(v.GetString("format")) {
	case "csv":
		recs, err := db.ListAudit(ctx, store.AuditFilter{StudentID: v.GetString("student")})
		if err != nil {
			return fmt.Errorf("list audit records: %w", err)
		}
		return audit.WriteCSV(w, true, recs)
	default:
		export, err := db.Export(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		_, _ = fmt.Fprintln(w)
		return nil
	}
}
