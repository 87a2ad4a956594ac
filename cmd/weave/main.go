// Package main provides the CLI entry point for the weave context engine.
//
// Weave maintains a durable, branchable record of LLM conversations. The
// CLI inspects chats, manages branches and checkpoints, searches history
// and runs database migrations.
//
// # Basic Usage
//
// Inspect a chat:
//
//	weave inspect --chat c1 --user u1 --model claude-3-5-sonnet-latest
//
// Branch management:
//
//	weave branch list --chat c1
//	weave branch create alt --chat c1 --user u1
//	weave branch switch alt --chat c1
//
// Checkpoints:
//
//	weave checkpoint create before-retry --chat c1 --user u1
//	weave checkpoint restore before-retry --chat c1 --user u1
//	weave checkpoint list --chat c1
//
// Migrations (postgres backend):
//
//	weave migrate up
//	weave migrate status
//
// # Environment Variables
//
//   - WEAVE_CONFIG: path to the configuration file
//   - WEAVE_STORE_BACKEND, WEAVE_STORE_PATH, WEAVE_STORE_DSN: store overrides
//   - WEAVE_MODEL, WEAVE_RENDERER: engine defaults
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/weave/internal/catalog"
	"github.com/haasonsaas/weave/internal/config"
	"github.com/haasonsaas/weave/internal/engine"
	"github.com/haasonsaas/weave/internal/estimate"
	"github.com/haasonsaas/weave/internal/observability"
	"github.com/haasonsaas/weave/internal/render"
	"github.com/haasonsaas/weave/internal/store"
	"github.com/haasonsaas/weave/pkg/models"
)

// Build information - populated by ldflags during build.
var (
	version    = "dev"
	commit     = "none"
	date       = "unknown"
	configPath string
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "Weave - durable, branchable LLM conversation records",
		Long: `Weave maintains a persistent record of LLM conversations as a message
forest with named branches and checkpoints, and renders branch histories
into prompt-ready context.

Backends: memory, sqlite, postgres`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("WEAVE_CONFIG"), "Path to configuration file")

	rootCmd.AddCommand(
		buildInspectCmd(),
		buildBranchCmd(),
		buildCheckpointCmd(),
		buildSearchCmd(),
		buildMigrateCmd(),
	)
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(observability.NewLogger(cfg.Logging))
	return cfg, nil
}

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(store.SQLiteConfig{
			Path:        cfg.Store.Path,
			BusyTimeout: cfg.Store.BusyTimeout,
		})
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newEngine wires a store, catalog and estimator into an engine for the
// given chat.
func newEngine(ctx context.Context, cfg *config.Config, chatID, userID, branch string) (*engine.Engine, store.Store, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(st, estimate.New(catalog.New()), engine.Options{
		ChatID:  chatID,
		UserID:  userID,
		Branch:  branch,
		Backend: cfg.Store.Backend,
		Logger:  slog.Default(),
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, st, nil
}

func buildInspectCmd() *cobra.Command {
	var chatID, userID, branch, modelID, format string
	var tree bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Render a chat's context with token estimate and graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if modelID == "" {
				modelID = cfg.Engine.Model
			}
			if format == "" {
				format = cfg.Engine.Renderer
			}
			eng, st, err := newEngine(cmd.Context(), cfg, chatID, userID, branch)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := eng.Inspect(cmd.Context(), engine.InspectOptions{
				ModelID:  modelID,
				Renderer: render.ByName(format),
			})
			if err != nil {
				return err
			}
			if tree {
				printGraphTree(cmd.OutOrStdout(), result.Graph)
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch to inspect (default: main)")
	cmd.Flags().StringVar(&modelID, "model", "", "Model ID for the token estimate")
	cmd.Flags().StringVar(&format, "format", "", "Renderer: xml, markdown or toml")
	cmd.Flags().BoolVar(&tree, "tree", false, "Print the message graph as an ASCII tree instead of JSON")
	cmd.MarkFlagRequired("chat")
	cmd.MarkFlagRequired("user")
	return cmd
}

// printGraphTree renders the message forest as an indented ASCII tree.
// Branch heads are annotated inline so divergent histories are visible
// at a glance.
func printGraphTree(w io.Writer, g models.Graph) {
	heads := make(map[string][]string)
	for _, b := range g.Branches {
		if b.HeadMessageID == nil {
			continue
		}
		label := b.Name
		if b.IsActive {
			label += "*"
		}
		heads[*b.HeadMessageID] = append(heads[*b.HeadMessageID], label)
	}

	children := make(map[string][]models.GraphNode)
	var roots []models.GraphNode
	for _, n := range g.Nodes {
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		children[*n.ParentID] = append(children[*n.ParentID], n)
	}

	var walk func(n models.GraphNode, depth int)
	walk = func(n models.GraphNode, depth int) {
		line := strings.Repeat("  ", depth) + "- " + n.Name
		if n.Content != "" {
			line += ": " + n.Content
		}
		if labels := heads[n.ID]; len(labels) > 0 {
			line += "  [" + strings.Join(labels, ", ") + "]"
		}
		fmt.Fprintln(w, line)
		for _, c := range children[n.ID] {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
	for _, b := range g.Branches {
		if b.HeadMessageID == nil {
			label := b.Name
			if b.IsActive {
				label += "*"
			}
			fmt.Fprintf(w, "(empty branch %s)\n", label)
		}
	}
}

func buildBranchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage conversation branches",
	}
	cmd.AddCommand(buildBranchListCmd(), buildBranchCreateCmd(), buildBranchSwitchCmd())
	return cmd
}

func buildBranchListCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a chat's branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			branches, err := st.ListBranches(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(branches) == 0 {
				fmt.Fprintln(out, "No branches.")
				return nil
			}
			for _, b := range branches {
				marker := " "
				if b.IsActive {
					marker = "*"
				}
				head := "(empty)"
				if b.HeadMessageID != nil {
					head = *b.HeadMessageID
				}
				fmt.Fprintf(out, "%s %-20s head=%s created=%s\n",
					marker, b.Name, head, b.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.MarkFlagRequired("chat")
	return cmd
}

func buildBranchCreateCmd() *cobra.Command {
	var chatID, userID string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Fork a branch from the active branch's head and switch to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, st, err := newEngine(cmd.Context(), cfg, chatID, userID, "")
			if err != nil {
				return err
			}
			defer st.Close()

			if err := eng.Branch(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Branch %q created and active.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.MarkFlagRequired("chat")
	cmd.MarkFlagRequired("user")
	return cmd
}

func buildBranchSwitchCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "switch <name>",
		Short: "Make an existing branch the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetActiveBranch(cmd.Context(), chatID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Branch %q is now active.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.MarkFlagRequired("chat")
	return cmd
}

func buildCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
	}
	cmd.AddCommand(buildCheckpointCreateCmd(), buildCheckpointRestoreCmd(), buildCheckpointListCmd())
	return cmd
}

func buildCheckpointCreateCmd() *cobra.Command {
	var chatID, userID string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Record a checkpoint at the active branch's head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, st, err := newEngine(cmd.Context(), cfg, chatID, userID, "")
			if err != nil {
				return err
			}
			defer st.Close()

			if err := eng.Checkpoint(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint %q created.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.MarkFlagRequired("chat")
	cmd.MarkFlagRequired("user")
	return cmd
}

func buildCheckpointRestoreCmd() *cobra.Command {
	var chatID, userID, branch string
	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Move a branch's head back to a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, st, err := newEngine(cmd.Context(), cfg, chatID, userID, branch)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := eng.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored checkpoint %q.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch to move (default: active)")
	cmd.MarkFlagRequired("chat")
	cmd.MarkFlagRequired("user")
	return cmd
}

func buildCheckpointListCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a chat's checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			checkpoints, err := st.ListCheckpoints(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(checkpoints) == 0 {
				fmt.Fprintln(out, "No checkpoints.")
				return nil
			}
			for _, cp := range checkpoints {
				fmt.Fprintf(out, "%-20s message=%s created=%s\n",
					cp.Name, cp.MessageID, cp.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.MarkFlagRequired("chat")
	return cmd
}

func buildSearchCmd() *cobra.Command {
	var chatID string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search a chat's messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := st.SearchMessages(cmd.Context(), chatID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for _, msg := range msgs {
				fmt.Fprintf(out, "%s  [%s] %s  %s\n",
					msg.CreatedAt.Format(time.RFC3339), msg.Type, msg.Name, msg.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.MarkFlagRequired("chat")
	return cmd
}

// openMigrationDB opens the configured Postgres database for migrations.
func openMigrationDB(cfg *config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.Store.DSN) == "" {
		return nil, fmt.Errorf("store dsn is required for migrations")
	}
	db, err := sql.Open("postgres", cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations (postgres backend)",
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openMigrationDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator, err := store.NewMigrator(db, slog.Default())
			if err != nil {
				return err
			}
			applied, err := migrator.Up(cmd.Context(), steps)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "No pending migrations.")
				return nil
			}
			for _, id := range applied {
				fmt.Fprintf(out, "Applied %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 = all)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openMigrationDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator, err := store.NewMigrator(db, slog.Default())
			if err != nil {
				return err
			}
			reverted, err := migrator.Down(cmd.Context(), steps)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reverted) == 0 {
				fmt.Fprintln(out, "Nothing to roll back.")
				return nil
			}
			for _, id := range reverted {
				fmt.Fprintf(out, "Reverted %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openMigrationDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator, err := store.NewMigrator(db, slog.Default())
			if err != nil {
				return err
			}
			ledger, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ledger) == 0 {
				fmt.Fprintln(out, "No migrations found.")
				return nil
			}
			for _, row := range ledger {
				if row.Applied {
					fmt.Fprintf(out, "applied  %s  %s\n", row.ID, row.AppliedAt.Format(time.RFC3339))
				} else {
					fmt.Fprintf(out, "pending  %s\n", row.ID)
				}
			}
			return nil
		},
	}
	return cmd
}
