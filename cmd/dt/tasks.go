package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dualtext/internal/app"
	"dualtext/internal/domain"
	"dualtext/internal/engine"
	"dualtext/internal/events"
	"dualtext/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are ANNOTATION or REVIEW work items. Claim hands out the oldest unassigned one; marking an annotation task done spawns its review when the project uses reviews.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskSeedCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskClaimableCmd())
	task.AddCommand(taskReleaseCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskUpdateCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var action string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			opts.ProjectID = id
			opts.Name = args[0]
			opts.Action = domain.Action(action)
			opts.User = currentUser()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", string(domain.ActionAnnotation), "ANNOTATION or REVIEW")
	cmd.Flags().StringVar(&opts.CopiedFrom, "copied-from", "", "task this one copies")
	cmd.Flags().StringSliceVar(&opts.DocumentIDs, "document", nil, "document id; one annotation is created per document")
	return cmd
}

func taskSeedCmd() *cobra.Command {
	var opts engine.SeedOptions
	cmd := &cobra.Command{
		Use:   "seed [document-id...]",
		Short: "Split documents into annotation tasks",
		Long:  "Creates one task per --task-size documents, each document in its own annotation. Without ids, every document of --corpus is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			opts.ProjectID = id
			opts.DocumentIDs = args
			opts.User = currentUser()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				tasks, err := a.Engine.SeedTasks(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.TaskSize, "task-size", 10, "documents per task")
	cmd.Flags().StringVar(&opts.CorpusID, "corpus", "", "seed from every document of this corpus")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var action, finished string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			f.ProjectID = id
			f.Action = domain.Action(action)
			user := currentUser()
			if mine {
				f.UserID = user.ID
			}
			switch finished {
			case "":
			case "true", "false":
				v := finished == "true"
				f.Finished = &v
			default:
				return fmt.Errorf("--finished must be true or false")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				tasks, err := a.Engine.ListTasks(ctx, user, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable(table.Row{"ID", "Name", "Action", "Annotator", "Reviewer", "Finished"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Action, deref(t.AnnotatorID), deref(t.ReviewerID), t.IsFinished()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "ANNOTATION or REVIEW")
	cmd.Flags().StringVar(&f.UserID, "assignee", "", "tasks where this user is annotator or reviewer")
	cmd.Flags().BoolVar(&mine, "mine", false, "tasks assigned to the acting user")
	cmd.Flags().StringVar(&finished, "finished", "", "true or false")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its annotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, annotations, err := a.Engine.GetTask(ctx, args[0], currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"task": t, "annotations": annotations})
			})
		},
	}
}

func taskClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <annotation|review>",
		Short: "Claim the next open task of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.Claim(ctx, id, currentUser(), domain.ClaimKind(args[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskClaimableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claimable",
		Short: "Count unassigned open tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				c, err := a.Engine.ClaimableCounts(ctx, id, currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func taskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Hand a claimed task back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.Release(ctx, args[0], currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				user := currentUser()
				current, _, err := a.Engine.GetTask(ctx, args[0], user)
				if err != nil {
					return err
				}
				done := true
				opts := engine.TaskUpdateOptions{ID: current.ID, User: user}
				if current.Action == domain.ActionReview {
					opts.IsReviewed = &done
				} else {
					opts.IsAnnotated = &done
				}
				t, err := a.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var name, annotator, reviewer string
	var annotated, reviewed bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0], User: currentUser()}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("annotator") {
				opts.AnnotatorID = &annotator
			}
			if cmd.Flags().Changed("reviewer") {
				opts.ReviewerID = &reviewer
			}
			if cmd.Flags().Changed("annotated") {
				opts.IsAnnotated = &annotated
			}
			if cmd.Flags().Changed("reviewed") {
				opts.IsReviewed = &reviewed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&annotator, "annotator", "", "annotator id (empty clears)")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer id (empty clears)")
	cmd.Flags().BoolVar(&annotated, "annotated", false, "annotation finished")
	cmd.Flags().BoolVar(&reviewed, "reviewed", false, "review finished")
	return cmd
}

func annotationCmd() *cobra.Command {
	ann := &cobra.Command{
		Use:   "annotation",
		Short: "Edit annotations",
		Long:  "Every effective change is recorded as a lap of the acting user's open run on the task.",
	}
	var docs []string
	create := &cobra.Command{
		Use:   "create <task-id>",
		Short: "Create an annotation on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				out, err := a.Engine.CreateAnnotation(ctx, args[0], docs, currentUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	create.Flags().StringSliceVar(&docs, "document", nil, "document id")
	ann.AddCommand(create)
	ann.AddCommand(mutationCmd("add-docs", "Add documents", events.OpAddDocuments))
	ann.AddCommand(mutationCmd("remove-docs", "Remove documents", events.OpRemoveDocuments))
	ann.AddCommand(mutationCmd("add-labels", "Add labels", events.OpAddLabels))
	ann.AddCommand(mutationCmd("remove-labels", "Remove labels", events.OpRemoveLabels))
	return ann
}

func mutationCmd(use, short string, op events.AnnotationOp) *cobra.Command {
	var ids []string
	var role, mutationID string
	var all bool
	labels := op == events.OpAddLabels || op == events.OpRemoveLabels
	cmd := &cobra.Command{
		Use:   use + " <annotation-id> [id...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids = append(ids, args[1:]...)
			m := engine.AnnotationMutation{
				AnnotationID: args[0],
				Op:           op,
				MutationID:   mutationID,
				User:         currentUser(),
			}
			if labels {
				m.LabelIDs = ids
				m.Role = domain.LabelRole(role)
			} else {
				m.DocumentIDs = ids
			}
			if all {
				switch op {
				case events.OpRemoveDocuments:
					m.Op = events.OpClearDocuments
				case events.OpRemoveLabels:
					m.Op = events.OpClearLabels
				default:
					return fmt.Errorf("--all only applies to removals")
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				out, err := a.Engine.MutateAnnotation(ctx, m)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	if labels {
		cmd.Flags().StringVar(&role, "role", string(domain.RoleAnnotator), "annotator or reviewer label set")
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove everything")
	cmd.Flags().StringVar(&mutationID, "mutation-id", "", "idempotency key for the recorded lap")
	return cmd
}
