// remedy is an autonomous repair loop for a source workspace: it clusters
// diagnostics, plans fixes, gates them behind policy and approval, applies
// patches atomically, and re-validates until the workspace is clean.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"remedy/internal/approval"
	"remedy/internal/config"
	"remedy/internal/generator"
	"remedy/internal/healing"
	"remedy/internal/history"
	"remedy/internal/logging"
	"remedy/internal/types"
	"remedy/internal/validation"
	"remedy/internal/watch"
)

var (
	verbose   bool
	workspace string
	noAsk     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "remedy",
	Short: "remedy - autonomous code repair loop",
	Long: `remedy watches diagnostics in a workspace, clusters them by root cause,
plans repairs, and applies them atomically with checkpoint rollback.

Risky changes never land silently: the approval gate asks first, and every
apply can be undone from its pre-apply checkpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var healCmd = &cobra.Command{
	Use:   "heal [files...]",
	Short: "Run one healing cycle over the given files (or the whole workspace)",
	RunE:  runHeal,
}

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate without fixing anything",
	RunE:  runValidate,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace and heal on every settled save",
	RunE:  runWatch,
}

var checkpointsCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent healing attempts",
	RunE:  runHistory,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .remedy/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Default().Save(workspace); err != nil {
			return err
		}
		fmt.Println("wrote .remedy/config.yaml")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVar(&noAsk, "no-ask", false, "Never prompt; decline anything that needs approval")

	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildHealer wires the full pipeline from config.
func buildHealer(cfg *config.Config) (*healing.Healer, *history.Store, error) {
	store, err := history.Open(workspace)
	if err != nil {
		return nil, nil, err
	}

	var gen types.ContentGenerator
	if cfg.Generator.Provider == "genai" && cfg.Generator.APIKey != "" {
		g, gerr := generator.NewGeminiGenerator(cfg.Generator)
		if gerr != nil {
			logger.Warn("content generator unavailable, mechanical fixes only", zap.Error(gerr))
		} else {
			gen = g
		}
	}

	var surface types.ApprovalSurface
	if !noAsk {
		surface = &terminalSurface{}
	}

	engine := validation.NewEngine(validation.NewFileSource(workspace), cfg.Validation)
	approvals := approval.NewEngine(cfg.Approval, surface)

	h := healing.NewHealer(workspace, cfg, engine, approvals, healing.Options{
		Generator: gen,
		Recorder:  store,
	})

	if entry, jerr := h.RecoverStaleJournal(); jerr != nil {
		logger.Warn("could not inspect apply journal", zap.Error(jerr))
	} else if entry != nil {
		logger.Warn("previous run was interrupted mid-apply; review the listed files before trusting the workspace",
			zap.String("intent", entry.IntentID),
			zap.Time("started", entry.Timestamp),
			zap.Int("patches", len(entry.Patches)))
	}
	return h, store, nil
}

func runHeal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	h, store, err := buildHealer(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files := args
	if len(files) == 0 {
		files, err = workspaceFiles()
		if err != nil {
			return err
		}
	}

	logger.Info("healing", zap.Int("files", len(files)))
	res, err := h.Heal(ctx, files)
	if err != nil {
		return err
	}

	printResult(res)
	if res.Outcome != types.HealSucceeded {
		os.Exit(2)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	files := args
	if len(files) == 0 {
		files, err = workspaceFiles()
		if err != nil {
			return err
		}
	}

	engine := validation.NewEngine(validation.NewFileSource(workspace), cfg.Validation)
	res, err := engine.Run(cmd.Context(), validation.Target{Workspace: workspace, Files: files})
	if err != nil {
		return err
	}

	for _, is := range res.Issues {
		fmt.Printf("%-8s %s:%d  %s\n", is.Severity, is.File, is.Line, is.Message)
	}
	fmt.Printf("\n%d validator(s), %d issue(s), %d blocking (%s)\n",
		res.Summary.Total, len(res.Issues), res.Summary.Blockers, res.Duration.Round(time.Millisecond))
	if !res.Passed {
		os.Exit(2)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	h, store, err := buildHealer(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New(workspace, func(ctx context.Context, files []string) error {
		res, herr := h.Heal(ctx, files)
		if herr != nil {
			return herr
		}
		logger.Info("heal cycle",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("attempts", len(res.Attempts)),
			zap.Duration("took", res.Duration))
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	logger.Info("watching", zap.String("workspace", workspace))
	<-ctx.Done()
	w.Stop()

	stats := w.Snapshot()
	logger.Info("watch stopped",
		zap.Int64("events", stats.EventsReceived),
		zap.Int64("cycles", stats.CyclesTriggered),
		zap.Int64("errors", stats.CycleErrors))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(workspace)
	if err != nil {
		return err
	}
	defer store.Close()

	attempts, err := store.RecentAttempts(20)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Println("no recorded healing attempts")
		return nil
	}

	for _, a := range attempts {
		marker := "✗"
		if a.Result == "succeeded" {
			marker = "✓"
		}
		fmt.Printf("%s %s  %-9s  %s (issues %d -> %d)\n",
			marker, a.Timestamp.Format("2006-01-02 15:04:05"), a.Result,
			a.FixDescription, a.IssuesBefore, a.IssuesAfter)
	}
	return nil
}

func printResult(res *types.HealingResult) {
	fmt.Printf("outcome: %s (%s)\n", res.Outcome, res.Duration.Round(time.Millisecond))
	fmt.Printf("summary: %s\n", res.Summary)
	for i, a := range res.Attempts {
		status := "failed"
		if a.Success {
			status = "ok"
		}
		desc := ""
		if a.SelectedFix != nil {
			desc = a.SelectedFix.Description
		}
		fmt.Printf("  attempt %d: %s - %s\n", i+1, status, desc)
		if a.Error != "" {
			fmt.Printf("    error: %s\n", a.Error)
		}
	}
	if res.FinalValidation != nil && !res.FinalValidation.Passed {
		fmt.Printf("remaining issues: %d (%d blocking)\n",
			len(res.FinalValidation.Issues), res.FinalValidation.Summary.Blockers)
	}
}

// workspaceFiles lists the source files under the workspace, skipping the
// usual build and dotdir noise.
func workspaceFiles() ([]string, error) {
	var files []string
	err := walkSource(workspace, &files)
	return files, err
}

func walkSource(root string, files *[]string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "dist" {
				continue
			}
			if err := walkSource(root+string(os.PathSeparator)+name, files); err != nil {
				return err
			}
			continue
		}
		switch {
		case strings.HasSuffix(name, ".ts"), strings.HasSuffix(name, ".tsx"),
			strings.HasSuffix(name, ".js"), strings.HasSuffix(name, ".jsx"),
			strings.HasSuffix(name, ".go"), strings.HasSuffix(name, ".css"):
			rel := strings.TrimPrefix(root+string(os.PathSeparator)+name, workspace+string(os.PathSeparator))
			*files = append(*files, rel)
		}
	}
	return nil
}

// terminalSurface asks for approval on stdin.
type terminalSurface struct{}

func (terminalSurface) RequestApproval(ctx context.Context, intent types.ActionIntent, preview string) (bool, error) {
	fmt.Printf("\n%s (%s risk): %s\n", intent.Type, intent.RiskLevel, intent.Description)
	if len(intent.FilesAffected) > 0 {
		fmt.Printf("files: %s\n", strings.Join(intent.FilesAffected, ", "))
	}
	if preview != "" {
		fmt.Println(preview)
	}
	fmt.Print("apply? [y/N] ")

	answerCh := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answerCh <- strings.TrimSpace(strings.ToLower(line))
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n(timed out, declining)")
		return false, ctx.Err()
	case answer := <-answerCh:
		return answer == "y" || answer == "yes", nil
	}
}
