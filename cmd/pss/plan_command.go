package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pss-server/pkg/milestones"
)

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <plan.json|->",
		Short: "Preview the milestones a phased plan turns into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var plan milestones.PhasedPlan
			if err := json.Unmarshal(data, &plan); err != nil {
				return fmt.Errorf("parse plan: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderMilestones(milestones.GenerateFromPlan(&plan)))
			return nil
		},
	}
}

func renderMilestones(ms []milestones.Milestone) string {
	stats := milestones.GetStats(ms)
	if stats.TotalMilestones == 0 {
		return "Plan has no actions."
	}

	var rows [][]string
	for _, phase := range stats.Phases {
		for _, m := range phase.Milestones {
			done := ""
			if m.Completed {
				done = "yes"
			}
			rows = append(rows, []string{string(phase.Phase), strconv.Itoa(m.Order), m.Title, done})
		}
	}

	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Phase", "Order", "Milestone", "Done"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
	))
	fmt.Fprintf(&b, "\n%d milestones, %d%% complete", stats.TotalMilestones, milestones.CalculateProgress(ms))
	return b.String()
}
