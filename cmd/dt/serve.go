package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dualtext/internal/app"
	"dualtext/internal/config"
	"dualtext/internal/domain"
	"dualtext/internal/repo"
	"dualtext/internal/server"
	"dualtext/internal/stats"
	"dualtext/internal/telemetry"
)

func statsCmd() *cobra.Command {
	s := &cobra.Command{Use: "stats", Short: "Project statistics"}
	var action string
	annotators := &cobra.Command{
		Use:   "annotators",
		Short: "Finished and open tasks per annotator",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				out, err := a.Stats.Annotators(ctx, id, domain.Action(action), currentUser())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"User", "Finished", "Open"})
				for _, u := range out.Users() {
					st := out.Annotators[u]
					tw.AppendRow(table.Row{u, st.Finished, st.Open})
				}
				tw.AppendFooter(table.Row{"total", out.TotalTasks, ""})
				tw.Render()
				return nil
			})
		},
	}
	annotators.Flags().StringVar(&action, "action", "", "ANNOTATION or REVIEW (default both)")
	s.AddCommand(annotators)

	var granularity, userID string
	productivity := &cobra.Command{
		Use:   "productivity",
		Short: "Laps per user and time bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				out, err := a.Stats.Productivity(ctx, id, stats.Granularity(granularity), userID, currentUser())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"User", "Bucket", "Laps"})
				for _, b := range out.Buckets {
					tw.AppendRow(table.Row{b.UserID, b.Bucket, b.Laps})
				}
				tw.Render()
				sessions := newTable(table.Row{"User", "Runs", "Open", "Worked"})
				for _, u := range out.Sessions {
					sessions.AppendRow(table.Row{u.UserID, u.Runs, u.OpenRuns, time.Duration(u.WorkedSecs * float64(time.Second)).Round(time.Second)})
				}
				sessions.Render()
				return nil
			})
		},
	}
	productivity.Flags().StringVar(&granularity, "granularity", string(stats.PerMonth), "minute or month")
	productivity.Flags().StringVar(&userID, "for", "", "restrict to one user")
	s.AddCommand(productivity)
	return s
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every mutation appends an event in the same transaction: claims, task updates, annotation changes, spawned reviews.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ProjectID = viper.GetString("project")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if f.ProjectID != "" {
					if err := a.Engine.Auth.RequireMember(ctx, a.DB, f.ProjectID, currentUser()); err != nil {
						return err
					}
				}
				items, err := a.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				env.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				env.BasePath = basePath
			}
			if env.JWTSecret == "" && !env.AllowDevHeaders {
				return fmt.Errorf("DUALTEXT_JWT_SECRET is required unless DUALTEXT_ALLOW_DEV_HEADERS is set")
			}
			logger := log.New(os.Stderr, "dualtext: ", log.LstdFlags)
			shutdownTracing, err := telemetry.Setup(cmd.Context(), env.ServiceName, env.OTelEndpoint)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					logger.Printf("telemetry shutdown: %v", err)
				}
			}()

			a, err := app.Open(cmd.Context(), viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Stats:    a.Stats,
				BasePath: env.BasePath,
				Auth: server.AuthConfig{
					JWTSecret:       env.JWTSecret,
					AllowDevHeaders: env.AllowDevHeaders,
					Logger:          logger,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: env.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving dualtext API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", env.Addr, env.BasePath, env.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides DUALTEXT_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides DUALTEXT_BASE_PATH)")
	return cmd
}
