package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"canvasapi/internal/analysis"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var canvasID, imageURL string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify, OCR and critique one canvas image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(imageURL) == "" {
				return fmt.Errorf("--image-url is required")
			}
			client, logger, err := ctx.newClient(cmd)
			if err != nil {
				return err
			}

			o := analysis.NewOrchestrator(client, logger)
			unsubscribe := o.Subscribe(func(out analysis.Outcome) {
				logger.Info().Str("canvas_id", canvasID).Str("state", string(out.State)).Msg("analyze: transition")
			})
			defer unsubscribe()

			outcome, err := o.Start(cmd.Context(), analysis.CanvasRef{ID: canvasID, ImageURL: imageURL})
			if err != nil {
				return err
			}

			display := analysis.Project(outcome)
			if ctx.JSONMode() {
				if err := writeJSON(cmd, display); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderResult(display))
			}
			if outcome.State == analysis.StateFailed {
				return fmt.Errorf("analysis failed at the %s stage", display.FailedStage.Label())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&canvasID, "canvas-id", "cli", "Canvas identifier forwarded to the critique service")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "Public URL of the canvas image")
	return cmd
}

func renderResult(d analysis.DisplayResult) string {
	rows := [][]string{{"State", string(d.State)}}
	switch d.State {
	case analysis.StateSucceeded:
		rows = append(rows,
			[]string{"Description", d.Description},
			[]string{"Refined prompt", d.RefinedPrompt},
		)
	case analysis.StateFailed:
		rows = append(rows,
			[]string{"Failed stage", d.FailedStage.Label()},
			[]string{"Error", d.Error},
		)
	}
	return renderTable([]string{"Field", "Value"}, rows)
}
