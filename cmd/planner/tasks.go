package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Joseda-hg/planner/internal/blob"
	"github.com/Joseda-hg/planner/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var now = time.Now

func newTaskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks on the selected page",
	}
	cmd.AddCommand(newTaskAddCmd(opts))
	cmd.AddCommand(newTaskListCmd(opts))
	cmd.AddCommand(newTaskShowCmd(opts))
	cmd.AddCommand(newTaskStatusCmd(opts))
	cmd.AddCommand(newTaskRemoveCmd(opts))
	cmd.AddCommand(newTaskImageCmd(opts))
	cmd.AddCommand(newSubtaskCmd(opts))
	return cmd
}

func newTaskAddCmd(opts *options) *cobra.Command {
	var description, status, priority, due string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := model.Task{
				Title:       strings.Join(args, " "),
				Description: description,
				Status:      model.Status(status),
				Priority:    model.Priority(priority),
			}
			if due != "" {
				parsed, err := time.ParseInLocation("2006-01-02", due, time.Local)
				if err != nil {
					return fmt.Errorf("%w: invalid due date %q", model.ErrValidation, due)
				}
				task.DueDate = &parsed
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				created, err := a.tasks.AddTask(ctx, task)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", created.ID)
				printTask(cmd.OutOrStdout(), created)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "desc", "d", "", "description (markdown)")
	cmd.Flags().StringVarP(&status, "status", "s", "", "NotStarted, Pending, StartedWorking or Completed")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Low, Medium or High")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func newTaskListCmd(opts *options) *cobra.Command {
	var status string
	var allPages bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks on the selected page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter model.Status
			if status != "" {
				parsed, err := model.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}
			if allPages && filter == "" {
				return fmt.Errorf("%w: --all-pages needs --status", model.ErrValidation)
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if allPages {
					list, err := a.tasks.GetTasksByStatus(ctx, filter)
					if err != nil {
						return err
					}
					printTasks(cmd.OutOrStdout(), list)
					return nil
				}

				list := a.tasks.Tasks()
				if filter != "" {
					kept := list[:0]
					for _, task := range list {
						if task.Status == filter {
							kept = append(kept, task)
						}
					}
					list = kept
				}
				printTasks(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only tasks with this status")
	cmd.Flags().BoolVar(&allPages, "all-pages", false, "search every page (requires --status)")
	return cmd
}

func newTaskShowCmd(opts *options) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its description and subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				task, ok := a.tasks.Task(args[0])
				if !ok {
					found, err := a.store.GetTask(ctx, args[0])
					if err != nil {
						return err
					}
					task = found
				}
				pageName := task.PageID
				if p, ok := a.pages.Get(task.PageID); ok {
					pageName = p.Name
				}

				md := taskMarkdown(task, pageName)
				if raw {
					fmt.Fprint(cmd.OutOrStdout(), md)
					return nil
				}
				rendered, err := renderMarkdown(md)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), rendered)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without rendering")
	return cmd
}

func newTaskStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status|next>",
		Short: "Change a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				current, ok := a.tasks.Task(args[0])
				if !ok {
					return fmt.Errorf("task %s is not on page %s", args[0], selectedName(a))
				}
				next := model.NextStatus(current.Status)
				if !strings.EqualFold(args[1], "next") {
					parsed, err := model.ParseStatus(args[1])
					if err != nil {
						return err
					}
					next = parsed
				}
				updated, err := a.tasks.ChangeTaskStatus(ctx, current.ID, next)
				if err != nil {
					return err
				}
				printTask(cmd.OutOrStdout(), updated)
				return nil
			})
		},
	}
}

func newTaskRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task and its stored image",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				task, ok := a.tasks.Task(args[0])
				if err := a.tasks.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				if ok {
					removeImage(a, task.ImageURL)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

func newTaskImageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "image <id> <file>",
		Short: "Attach an image file to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				previous, ok := a.tasks.Task(args[0])
				if !ok {
					return fmt.Errorf("task %s is not on page %s", args[0], selectedName(a))
				}

				file, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer file.Close()

				name, err := a.blobs.Put(ctx, filepath.Base(args[1]), "", file)
				if err != nil {
					return err
				}
				updated, err := a.tasks.UploadTaskImage(ctx, previous.ID, blob.URL(name))
				if err != nil {
					_ = a.blobs.Remove(name)
					return err
				}
				if previous.ImageURL != updated.ImageURL {
					removeImage(a, previous.ImageURL)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Attached %s\n", updated.ImageURL)
				return nil
			})
		},
	}
}

func newSubtaskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtask",
		Short: "Manage a task's checklist",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <task-id> <title>",
		Short: "Add a subtask",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				updated, err := a.tasks.AddSubtask(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				added := updated.Subtasks[len(updated.Subtasks)-1]
				fmt.Fprintf(cmd.OutOrStdout(), "Added subtask %s\n", added.ID)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "done <task-id> <subtask-id>",
		Short: "Toggle a subtask's completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				updated, err := a.tasks.ToggleSubtask(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printTask(cmd.OutOrStdout(), updated)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <task-id> <subtask-id>",
		Short: "Remove a subtask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				updated, err := a.tasks.RemoveSubtask(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printTask(cmd.OutOrStdout(), updated)
				return nil
			})
		},
	})
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show status counts and completion rate for the selected page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				selected, ok := a.pages.Selected()
				if !ok {
					return fmt.Errorf("no page selected")
				}
				printSummary(cmd.OutOrStdout(), selected, a.tasks.Summary())
				return nil
			})
		},
	}
}

func selectedName(a *app) string {
	if selected, ok := a.pages.Selected(); ok {
		return selected.Name
	}
	return "(none)"
}

// removeImage deletes the stored file behind a local image URL.
func removeImage(a *app, imageURL string) {
	name, ok := blob.NameFromURL(imageURL)
	if !ok {
		return
	}
	if err := a.blobs.Remove(name); err != nil {
		a.logger.Warn("remove image", zap.String("name", name), zap.Error(err))
	}
}
