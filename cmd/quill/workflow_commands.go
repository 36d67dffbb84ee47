package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/notifications"
	"quill/internal/pipeline"
	"quill/internal/store"
	"quill/internal/workflow"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	var pipelineKey string

	cmd := &cobra.Command{
		Use:   "init <title>",
		Short: "Create a new workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(args[0])
			if title == "" {
				return fmt.Errorf("title must not be empty")
			}
			return ctx.withStore(func(cfg *config.Config, logger *slog.Logger, st *store.Store) error {
				runner, err := ctx.buildRunner(cfg, logger)
				if err != nil {
					return err
				}
				coord, err := workflow.Create(cmd.Context(), cfg, st, runner,
					notifications.NewService(cfg), logger, title, pipelineKey)
				if err != nil {
					return err
				}
				defer coord.Close(cmd.Context())

				instance := coord.Instance()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created workflow %s (%s pipeline)\n", instance.ID, coord.Pipeline().Name)
				fmt.Fprintf(out, "Run `quill trigger %s 1` to start the first stage.\n", instance.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&pipelineKey, "pipeline", "p", "proposal", "Pipeline to follow (proposal, newsletter)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflow instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, _ *slog.Logger, st *store.Store) error {
				instances, err := st.ListInstances(cmd.Context())
				if err != nil {
					return err
				}
				if len(instances) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workflows yet. Create one with `quill init`.")
					return nil
				}
				rows := make([][]string, 0, len(instances))
				for _, instance := range instances {
					rows = append(rows, []string{
						instance.ID,
						instance.Title,
						instance.PipelineKey,
						strconv.Itoa(instance.RegenerationCount),
						instance.UpdatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Pipeline", "Regens", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show stage status for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(os.Stdout)
				instance := coord.Instance()
				for _, line := range renderSectionHeader(instance.Title, colorize) {
					fmt.Fprintln(out, line)
				}

				rows := make([][]string, 0, len(coord.Views()))
				for _, view := range coord.Views() {
					ready := "no"
					if view.CanStart {
						ready = "yes"
					}
					rows = append(rows, []string{
						strconv.Itoa(view.StageID),
						view.Name,
						renderStatus(view.RunStatus, view.IsStale, colorize),
						ready,
						view.Error,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Stage", "Status", "Ready", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id> <stage-id>",
		Short: "Show a stage's effective output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseStageID(args[1])
			if err != nil {
				return err
			}
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				output := coord.EffectiveOutput(stageID)
				if output == nil {
					return fmt.Errorf("stage %d has no completed output", stageID)
				}
				out := cmd.OutOrStdout()
				if output.Summary != "" {
					fmt.Fprintln(out, output.Summary)
				}
				if output.Document == nil {
					return nil
				}
				colorize := shouldColorize(os.Stdout)
				for _, section := range output.Document.Sections {
					for _, line := range renderSectionHeader(section.Title, colorize) {
						fmt.Fprintln(out, line)
					}
					rows := make([][]string, 0, len(section.Items))
					for _, item := range section.Items {
						included := ""
						if item.Included {
							included = "x"
						}
						position := strconv.Itoa(item.Ordinal)
						if item.Custom {
							position = "custom"
						}
						rows = append(rows, []string{
							position,
							included,
							item.Title,
							item.Description,
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"#", "In", "Title", "Description"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
					))
				}
				return nil
			})
		},
	}
}

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	var brief string
	var briefFile string

	cmd := &cobra.Command{
		Use:   "trigger <workflow-id> <stage-id>",
		Short: "Run a stage's generation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseStageID(args[1])
			if err != nil {
				return err
			}
			configJSON := strings.TrimSpace(brief)
			if briefFile != "" {
				data, err := os.ReadFile(briefFile)
				if err != nil {
					return fmt.Errorf("read brief file: %w", err)
				}
				configJSON = strings.TrimSpace(string(data))
			}
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				run, err := coord.Trigger(cmd.Context(), stageID, configJSON)
				if err != nil {
					return err
				}
				return awaitAndReport(cmd, coord, run.ID, stageID)
			})
		},
	}

	cmd.Flags().StringVar(&brief, "brief", "", "Stage brief / configuration payload")
	cmd.Flags().StringVar(&briefFile, "brief-file", "", "Read the stage brief from a file")
	return cmd
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <workflow-id> <stage-id>",
		Short: "Rerun a stage with its last configuration, re-applying edits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseStageID(args[1])
			if err != nil {
				return err
			}
			return ctx.withCoordinator(cmd.Context(), args[0], func(coord *workflow.Coordinator) error {
				run, err := coord.Regenerate(cmd.Context(), stageID)
				if err != nil {
					return err
				}
				return awaitAndReport(cmd, coord, run.ID, stageID)
			})
		},
	}
}

func awaitAndReport(cmd *cobra.Command, coord *workflow.Coordinator, runID string, stageID int) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Generating stage %d...\n", stageID)
	snapshot, err := coord.AwaitRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	switch snapshot.Status {
	case pipeline.StatusCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "Stage %d completed.\n", stageID)
		return nil
	case pipeline.StatusFailed:
		return fmt.Errorf("stage %d failed: %s", stageID, snapshot.ErrorMessage)
	default:
		return fmt.Errorf("stage %d ended in unexpected status %s", stageID, snapshot.Status)
	}
}

func parseStageID(value string) (int, error) {
	stageID, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || stageID <= 0 {
		return 0, fmt.Errorf("invalid stage id %q", value)
	}
	return stageID, nil
}
