package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftsync/drift/internal/config"
	"github.com/driftsync/drift/internal/utils"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter Drift config",
		Run: func(cmd *cobra.Command, args []string) {
			path := resolveConfigPath(cmd)

			if utils.FileExists(path) && !force {
				fmt.Println("Drift is already configured")
				fmt.Printf("Config Path: %s\n", green(path))
				fmt.Printf("Edit it, or rerun with %s to start over\n", cyan("--force"))
				os.Exit(0)
			}

			if force {
				_ = os.Remove(path)
			}

			if err := config.SaveTemplate(path); err != nil {
				fmt.Printf("%s: %s\n", red("ERROR"), err)
				os.Exit(1)
			}

			fmt.Println("Drift config created")
			fmt.Printf("Config Path: %s\n", green(path))
			fmt.Printf("Next: set %s and %s, then run %s\n", cyan("roots"), cyan("bucket"), cyan("drift daemon"))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")

	return cmd
}
