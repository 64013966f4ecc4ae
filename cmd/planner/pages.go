package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Joseda-hg/planner/internal/model"
	"github.com/spf13/cobra"
)

func newPageCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Manage pages",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a page",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				added, err := a.pages.AddPage(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created page %s %s\n", added.ID, pageLabel(added))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pages; * marks the selected one",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				selected, _ := a.pages.Selected()
				for _, p := range a.pages.Pages() {
					marker := " "
					if p.ID == selected.ID {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s %s\n", marker, p.ID, pageLabel(p), mutedStyle.Render(p.Color))
				}
				return nil
			})
		},
	})

	var color string
	rename := &cobra.Command{
		Use:   "rename <page> <name>",
		Short: "Rename a page or change its color",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.PagePatch
			if len(args) > 1 {
				name := strings.Join(args[1:], " ")
				patch.Name = &name
			}
			if color != "" {
				patch.Color = &color
			}
			if patch.Name == nil && patch.Color == nil {
				return fmt.Errorf("%w: nothing to change", model.ErrValidation)
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				target, err := findPage(a, args[0])
				if err != nil {
					return err
				}
				updated, err := a.pages.UpdatePage(ctx, target.ID, patch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated page %s %s\n", updated.ID, pageLabel(updated))
				return nil
			})
		},
	}
	rename.Flags().StringVar(&color, "color", "", "page color (#rrggbb)")
	cmd.AddCommand(rename)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <page>",
		Short: "Delete a page",
		Long:  "Delete a page. Its tasks are kept unless cascade_page_delete is set in the config.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				target, err := findPage(a, args[0])
				if err != nil {
					return err
				}
				if err := a.pages.DeletePage(ctx, target.ID); err != nil {
					return err
				}
				if message := a.tasks.Error(); message != "" {
					return fmt.Errorf("%s", message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted page %s\n", target.Name)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "select <page>",
		Short: "Make a page the default for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				target, err := findPage(a, args[0])
				if err != nil {
					return err
				}
				if err := a.store.PutValue(ctx, selectedPageKey, []byte(target.ID)); err != nil {
					return err
				}
				a.pages.SetSelectedPage(ctx, &target)
				fmt.Fprintf(cmd.OutOrStdout(), "Selected page %s\n", pageLabel(target))
				return nil
			})
		},
	})

	return cmd
}

func findPage(a *app, ref string) (model.Page, error) {
	found, ok := a.pages.Find(ref)
	if !ok {
		return model.Page{}, fmt.Errorf("page %q not found", ref)
	}
	return found, nil
}
