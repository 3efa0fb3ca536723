package main

import (
	"fmt"
	"sort"

	"github.com/axonlab/axond/internal/licenses"
	"github.com/spf13/cobra"
)

func licensesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "licenses",
		Short: "Show third-party license information",
		Long: `Licenses lists the open source modules compiled into this binary
together with their license types.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := licenses.List()
			if err != nil {
				return err
			}

			fmt.Printf("%d third-party modules:\n\n", len(list))
			for _, lic := range list {
				fmt.Printf("  %-42s %s\n", lic.Package, lic.Type)
			}

			types := licenses.LicenseTypes()
			names := make([]string, 0, len(types))
			for name := range types {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println()
			for _, name := range names {
				fmt.Printf("  %-14s %d\n", name, types[name])
			}
			return nil
		},
	}
}
