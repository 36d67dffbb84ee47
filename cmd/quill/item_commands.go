package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/workflow"
)

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Edit generated content items",
	}

	itemCmd.AddCommand(newItemEditCommand(ctx))
	itemCmd.AddCommand(newItemToggleCommand(ctx))
	itemCmd.AddCommand(newItemRemoveCommand(ctx))
	itemCmd.AddCommand(newItemAddCommand(ctx))

	return itemCmd
}

type itemTarget struct {
	itemID  string
	section string
	ordinal int
}

func addTargetFlags(cmd *cobra.Command, target *itemTarget) {
	cmd.Flags().StringVar(&target.itemID, "id", "", "Item ID (custom items)")
	cmd.Flags().StringVar(&target.section, "section", "", "Section ID of the item")
	cmd.Flags().IntVar(&target.ordinal, "ordinal", -1, "Generated position within the section")
}

func (t itemTarget) ref() (workflow.ItemRef, error) {
	if strings.TrimSpace(t.itemID) != "" {
		return workflow.ItemRef{ItemID: strings.TrimSpace(t.itemID)}, nil
	}
	if strings.TrimSpace(t.section) == "" || t.ordinal < 0 {
		return workflow.ItemRef{}, fmt.Errorf("specify --id, or --section together with --ordinal")
	}
	return workflow.ItemRef{SectionID: strings.TrimSpace(t.section), Ordinal: t.ordinal}, nil
}

func newItemEditCommand(ctx *commandContext) *cobra.Command {
	var target itemTarget
	var title string
	var description string

	cmd := &cobra.Command{
		Use:   "edit <workflow-id> <stage-id>",
		Short: "Override an item's title or description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseStageID(args[1])
			if err != nil {
				return err
			}
			ref, err := target.ref()
			if err != nil {
				return err
			}
			var titlePtr, descriptionPtr *string
			if cmd.Flags().Changed("title") {
				titlePtr = &title
			}
			if cmd.Flags().Changed("description") {
				descriptionPtr = &description
			}
			if titlePtr == nil && descriptionPtr == nil {
				return fmt.Errorf("nothing to change; pass --title or --description")
			}
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				if err := coord.UpdateItem(cmd.Context(), stageID, ref, titlePtr, descriptionPtr); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Item updated.")
				return nil
			})
		},
	}

	addTargetFlags(cmd, &target)
	cmd.Flags().StringVar(&title, "title", "", "New item title")
	cmd.Flags().StringVar(&description, "description", "", "New item description")
	return cmd
}

func newItemToggleCommand(ctx *commandContext) *cobra.Command {
	var target itemTarget

	cmd := &cobra.Command{
		Use:   "toggle <workflow-id> <stage-id>",
		Short: "Flip an item's inclusion flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseStageID(args[1])
			if err != nil {
				return err
			}
			ref, err := target.ref()
			if err != nil {
				return err
			}
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				if err := coord.ToggleInclude(cmd.Context(), stageID, ref); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Item toggled.")
				return nil
			})
		},
	}

	addTargetFlags(cmd, &target)
	return cmd
}

func newItemRemoveCommand(ctx *commandContext) *cobra.Command {
	var target itemTarget

	cmd := &cobra.Command{
		Use:   "remove <workflow-id> <stage-id>",
		Short: "Remove an item from the stage output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseStageID(args[1])
			if err != nil {
				return err
			}
			ref, err := target.ref()
			if err != nil {
				return err
			}
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				if err := coord.RemoveItem(cmd.Context(), stageID, ref); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Item removed.")
				return nil
			})
		},
	}

	addTargetFlags(cmd, &target)
	return cmd
}

func newItemAddCommand(ctx *commandContext) *cobra.Command {
	var section string
	var title string
	var description string

	cmd := &cobra.Command{
		Use:   "add <workflow-id> <stage-id>",
		Short: "Add a custom item to a section",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseStageID(args[1])
			if err != nil {
				return err
			}
			if strings.TrimSpace(section) == "" {
				return fmt.Errorf("--section is required")
			}
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				item, err := coord.AddCustomItem(cmd.Context(), stageID, section, title, description)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added custom item %s.\n", item.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&section, "section", "", "Section to add the item to")
	cmd.Flags().StringVar(&title, "title", "", "Item title")
	cmd.Flags().StringVar(&description, "description", "", "Item description")
	return cmd
}
