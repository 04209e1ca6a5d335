package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dualtext/internal/app"
	"dualtext/internal/engine"
	"dualtext/internal/features"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectGroupsCmd())
	prj.AddCommand(projectCorporaCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			opts.User = currentUser()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.UseReviews, "use-reviews", false, "spawn review tasks on completion")
	cmd.Flags().StringSliceVar(&opts.Groups, "allow-group", nil, "allowed group (defaults to the caller's groups)")
	cmd.Flags().StringSliceVar(&opts.CorpusIDs, "corpus", nil, "attached corpus id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.GetProject(ctx, id, currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectGroupsCmd() *cobra.Command {
	var allow, revoke string
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Allow or revoke a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (allow == "") == (revoke == "") {
				return fmt.Errorf("exactly one of --allow or --revoke is required")
			}
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				group, on := allow, true
				if revoke != "" {
					group, on = revoke, false
				}
				p, err := a.Engine.SetProjectGroup(ctx, id, group, on, currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&allow, "allow", "", "group to allow")
	cmd.Flags().StringVar(&revoke, "revoke", "", "group to revoke")
	return cmd
}

func projectCorporaCmd() *cobra.Command {
	var attach, detach string
	cmd := &cobra.Command{
		Use:   "corpora",
		Short: "Attach or detach a corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (attach == "") == (detach == "") {
				return fmt.Errorf("exactly one of --attach or --detach is required")
			}
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				corpusID, on := attach, true
				if detach != "" {
					corpusID, on = detach, false
				}
				p, err := a.Engine.SetProjectCorpus(ctx, id, corpusID, on, currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&attach, "attach", "", "corpus id to attach")
	cmd.Flags().StringVar(&detach, "detach", "", "corpus id to detach")
	return cmd
}

func labelCmd() *cobra.Command {
	lbl := &cobra.Command{Use: "label", Short: "Manage labels"}
	var color string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a label in the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				l, err := a.Engine.CreateLabel(ctx, id, args[0], color, currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	create.Flags().StringVar(&color, "color", "", "display color")
	lbl.AddCommand(create)
	lbl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List project labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListLabels(ctx, id, currentUser())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Color"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.Name, l.Color})
				}
				tw.Render()
				return nil
			})
		},
	})
	return lbl
}

func corpusCmd() *cobra.Command {
	c := &cobra.Command{Use: "corpus", Short: "Manage corpora"}
	var meta string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				corpus, err := a.Engine.CreateCorpus(ctx, args[0], meta, currentUser().ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(corpus)
			})
		},
	}
	create.Flags().StringVar(&meta, "meta-json", "", "corpus metadata as a JSON object")
	c.AddCommand(create)
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List corpora",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListCorpora(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Meta", "Created"})
				for _, corpus := range items {
					tw.AppendRow(table.Row{corpus.ID, corpus.Name, corpus.MetaJSON, corpus.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete corpus with its documents and feature values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.DeleteCorpus(ctx, args[0], currentUser().ID)
			})
		},
	})
	return c
}

func documentCmd() *cobra.Command {
	d := &cobra.Command{Use: "document", Short: "Manage documents"}
	var corpusID, file string
	add := &cobra.Command{
		Use:   "add [content...]",
		Short: "Add documents to a corpus",
		Long:  "Each argument is one document. With --file, every non-empty line of the file is one document.",
		RunE: func(cmd *cobra.Command, args []string) error {
			contents := append([]string{}, args...)
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				for _, line := range strings.Split(string(data), "\n") {
					if line = strings.TrimSpace(line); line != "" {
						contents = append(contents, line)
					}
				}
			}
			if len(contents) == 0 {
				return fmt.Errorf("no documents given")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				docs, err := a.Engine.CreateDocuments(ctx, corpusID, contents, currentUser().ID)
				if docs == nil && err != nil {
					return err
				}
				reportFailures(features.Failures(err))
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := newTable(table.Row{"ID", "Content"})
				for _, doc := range docs {
					tw.AppendRow(table.Row{doc.ID, abbreviate(doc.Content, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	add.Flags().StringVar(&corpusID, "corpus", "", "corpus id")
	add.Flags().StringVar(&file, "file", "", "read documents from file, one per line")
	_ = add.MarkFlagRequired("corpus")
	d.AddCommand(add)
	d.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				doc, err := a.Engine.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete document with its feature values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.DeleteDocument(ctx, args[0], currentUser().ID)
			})
		},
	})
	return d
}

func featureCmd() *cobra.Command {
	f := &cobra.Command{Use: "feature", Short: "Manage corpus features"}
	var opts engine.FeatureOptions
	add := &cobra.Command{
		Use:   "add <key>",
		Short: "Register a feature on a corpus and backfill its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Key = args[0]
			if opts.Name == "" {
				opts.Name = opts.Key
			}
			opts.ActorID = currentUser().ID
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				feat, err := a.Engine.AddFeature(ctx, opts)
				if feat.ID == "" {
					return err
				}
				reportFailures(features.Failures(err))
				return printJSONOrTable(feat)
			})
		},
	}
	add.Flags().StringVar(&opts.CorpusID, "corpus", "", "corpus id")
	add.Flags().StringVar(&opts.Name, "name", "", "feature name (defaults to the key)")
	add.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = add.MarkFlagRequired("corpus")
	f.AddCommand(add)
	f.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List known strategy keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return printJSONOrTable(a.Engine.Features.Registry.Keys())
			})
		},
	})
	return f
}

func reportFailures(items []features.Failure) {
	for _, f := range items {
		fmt.Fprintf(os.Stderr, "feature %s (%s) failed on document %s: %v\n", f.FeatureID, f.FeatureKey, f.DocumentID, f.Err)
	}
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
