package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/structsched"
)

var prioritiesCmd = &cobra.Command{
	Use:   "priorities",
	Short: "List priority levels, most urgent first",
	Args:  cobra.NoArgs,
	RunE:  runPriorities,
}

func init() {
	rootCmd.AddCommand(prioritiesCmd)
}

func runPriorities(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	def := structsched.ParsePriority(cfg.DefaultPriority)

	fmt.Fprint(cmd.OutOrStdout(), renderPriorities(def))
	return nil
}

func renderPriorities(def structsched.Priority) string {
	levels := structsched.Priorities.All()
	slices.Reverse(levels)

	var b strings.Builder
	b.WriteString(nameStyle.Render(headerStyle.Render("RANK")))
	b.WriteString(headerStyle.Render("PRIORITY"))
	b.WriteString("\n")
	for i, p := range levels {
		b.WriteString(nameStyle.Render(fmt.Sprint(i + 1)))
		b.WriteString(cellStyle.Render(p.String()))
		if p == def {
			b.WriteString(mutedStyle.Render("(default)"))
		}
		b.WriteString("\n")
	}
	return b.String()
}
