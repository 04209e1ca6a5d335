package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dualtext/internal/app"
	"dualtext/internal/config"
	"dualtext/internal/db"
	"dualtext/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "dt",
	Short: "dualtext CLI",
	Long: `dualtext hands out annotation work over a shared SQLite workspace.
Core concepts:
- Project: groups tasks, labels and the corpora being annotated; visible to members of its allowed groups.
- Task: one unit of work, either ANNOTATION or REVIEW. Finishing an annotation task spawns its review when the project uses reviews.
- Claim: hands the oldest unassigned task of a kind to the caller; concurrent claims never get the same task.
- Annotation: documents and labels attached to a task; every change is recorded as a lap of the user's open run.
- Corpus/Feature: documents with per-document values computed by registered strategies.
- Event log: every mutation, view with 'dt log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DUALTEXT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "acting user id")
	rootCmd.PersistentFlags().StringSlice("groups", []string{"annotators"}, "groups of the acting user")
	rootCmd.PersistentFlags().String("project", "", "project id")
	for _, name := range []string{"workspace", "json", "user", "groups", "project"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(corpusCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(featureCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(annotationCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config (dualtext.yml)",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default dualtext.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate dualtext.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func currentUser() domain.User {
	return domain.User{ID: viper.GetString("user"), Groups: viper.GetStringSlice("groups")}
}

func projectID() (string, error) {
	id := strings.TrimSpace(viper.GetString("project"))
	if id == "" {
		return "", fmt.Errorf("project not specified; use --project or DUALTEXT_PROJECT")
	}
	return id, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), log.New(os.Stderr, "dt: ", log.LstdFlags))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
