// Package main implements the stratactl CLI for manual operations against a
// strata store. Commands build the service in-process from the same config
// the daemon uses, so they work against embedded backends without a running
// stratad.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/strata/internal/app"
	"github.com/fyrsmithlabs/strata/internal/config"
	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/tenant"
)

var (
	configPath string
	workspace  string
	agent      string

	// version information
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stratactl",
	Short: "CLI for strata knowledge store operations",
	Long: `stratactl is a command-line interface for operating on a strata store.
It loads the same configuration as stratad and runs operations in-process,
so it works against embedded backends (memory, chromem) without a daemon.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/strata/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "tenant workspace")
	rootCmd.PersistentFlags().StringVar(&agent, "agent", "", "tenant agent (optional)")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(layerCmd)
	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsDropCmd)

	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "number of results")
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "restrict to a record kind (resource, memory, skill)")
	ingestCmd.Flags().StringVar(&ingestKind, "kind", knowledge.KindResource, "record kind (resource, memory, skill)")
	ingestCmd.Flags().StringVar(&ingestURI, "uri", "", "resource uri (default file://<abs path>)")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest a file into the store",
	Long: `Ingest a file: derive its layers, embed them and store the records.

Examples:
  # Ingest a document
  stratactl ingest --workspace acme docs/runbook.md

  # Ingest as a skill under an explicit uri
  stratactl ingest --workspace acme --kind skill --uri skill://deploys playbook.md`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var (
	ingestKind string
	ingestURI  string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the store",
	Long: `Search across the workspace's layers; prints matches as JSON lines.

Examples:
  stratactl search --workspace acme "redis eviction policy"
  stratactl search --workspace acme --kind memory --top-k 5 "deploy failures"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var (
	searchTopK int
	searchKind string
)

var layerCmd = &cobra.Command{
	Use:   "layer <uri> <l0|l1|l2>",
	Short: "Fetch one layer of a resource",
	Long: `Fetch a materialized layer of a resource by uri.

Examples:
  stratactl layer --workspace acme doc://runbook l1`,
	Args: cobra.ExactArgs(2),
	RunE: runLayer,
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Administer backend collections",
}

var collectionsDropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Drop a collection and all its records",
	Long: `Drop a backend collection by its full name. This is the only way a
collection is ever removed; nothing drops them implicitly.

Example:
  stratactl collections drop ws_acme_resource`,
	Args: cobra.ExactArgs(1),
	RunE: runCollectionsDrop,
}

// withApp builds the stack, runs fn and tears the stack down again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The CLI logs to stderr only through errors; keep the daemon's
	// structured output out of command output.
	cfg.Logging.Level = "error"

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close(context.Background())
	}()
	return fn(ctx, a)
}

// scoped stamps the tenant scope from the persistent flags.
func scoped(ctx context.Context) (context.Context, error) {
	if workspace == "" {
		return nil, fmt.Errorf("--workspace is required")
	}
	return tenant.ContextWithScope(ctx, tenant.Scope{Workspace: workspace, Agent: agent})
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	uri := ingestURI
	if uri == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		uri = "file://" + filepath.ToSlash(abs)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		ctx, err := scoped(ctx)
		if err != nil {
			return err
		}
		id, err := a.Service.Ingest(ctx, knowledge.Resource{
			URI:         uri,
			Kind:        ingestKind,
			ContentType: contentTypeFor(path),
			Data:        data,
		})
		if err != nil {
			return err
		}
		fmt.Printf("ingested %s as %s\n", uri, id)
		return nil
	})
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		ctx, err := scoped(ctx)
		if err != nil {
			return err
		}
		var f filter.Expr
		if searchKind != "" {
			f = filter.Eq(knowledge.FieldKind, searchKind)
		}
		results, err := a.Service.Search(ctx, args[0], f, searchTopK)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, r := range results {
			line := map[string]any{
				"id":      r.ID,
				"score":   r.Score,
				"kind":    r.Kind,
				"content": r.Content,
			}
			if uri, ok := r.Fields[knowledge.FieldURI].(string); ok {
				line["uri"] = uri
			}
			if layer, ok := r.Fields[knowledge.FieldLayer].(string); ok {
				line["layer"] = layer
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		return nil
	})
}

func runLayer(cmd *cobra.Command, args []string) error {
	uri, layerName := args[0], strings.ToLower(args[1])
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		ctx, err := scoped(ctx)
		if err != nil {
			return err
		}
		l, err := a.Service.GetLayer(ctx, uri, layerName)
		if err != nil {
			return err
		}
		fmt.Println(l.Content)
		return nil
	})
}

func runCollectionsDrop(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.DropCollection(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("dropped %s\n", args[0])
		return nil
	})
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}
