package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the available stages and their result columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := stageRegistry()
		out := cmd.OutOrStdout()
		for _, name := range reg.Names() {
			s, err := reg.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-10s fields: %s\n", name, strings.Join(s.Fields(), ", "))
			fmt.Fprintf(out, "%-10s metadata: %s\n", "", strings.Join(s.ResultColumns(), ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}
