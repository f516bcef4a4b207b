package main

import (
	"fmt"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/driftsync/drift/internal/blob"
	"github.com/driftsync/drift/internal/config"
)

func init() {
	rootCmd.AddCommand(newLsCmd())
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List mirrored objects in the bucket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(resolveConfigPath(cmd))
			if err != nil {
				return err
			}
			if cfg.Bucket == "" {
				return fmt.Errorf("config: bucket is required, run %s first", cyan("drift init"))
			}

			store, err := blob.NewBlobClient(cfg.S3())
			if err != nil {
				return err
			}

			prefix := cfg.Prefix
			if len(args) == 1 {
				prefix = path.Join(prefix, args[0])
			}

			objects, err := store.ListObjects(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			var total uint64
			out := cmd.OutOrStdout()
			for _, obj := range objects {
				total += uint64(obj.Size)
				fmt.Fprintf(out, "%10s  %s  %s\n", humanize.IBytes(uint64(obj.Size)), obj.LastModified, obj.Key)
			}
			fmt.Fprintf(out, "%d objects, %s\n", len(objects), humanize.IBytes(total))
			return nil
		},
	}

	return cmd
}
