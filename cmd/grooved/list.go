package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [page]",
	Short: "Fetch and print a page's playlist",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		name := cfg.DefaultPage
		if len(args) == 1 {
			name = args[0]
		}
		page, ok := cfg.PageByName(name)
		if !ok {
			return fmt.Errorf("unknown page %q", name)
		}

		src, err := newSource(cfg, page)
		if err != nil {
			return err
		}
		tracks, err := src.Fetch(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", name, err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for i, t := range tracks {
			fmt.Fprintf(w, "%d\t%s\t%s\n", i, t.Name, t.Locator)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
