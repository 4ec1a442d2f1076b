package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/sdr-runner/internal/command"
	"github.com/couchcryptid/sdr-runner/internal/config"
)

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the profile, the environment and the toolchain scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, _, err := opts.loadProfile()
			if err != nil {
				return err
			}
			err = errors.Join(
				config.CheckEnvironment(nil),
				command.CheckBinaries(profile.SDRCall, profile.MirrorLUTsCall, profile.MirrorAncCall),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "profile %s OK\n", profile.Name)
			fmt.Fprintf(out, "  site/mode:   %s/%s\n", profile.Site, profile.Mode)
			fmt.Fprintf(out, "  subscribe:   %v\n", profile.SubscribeTopics)
			fmt.Fprintf(out, "  publish:     %s\n", profile.PublishTopic)
			fmt.Fprintf(out, "  processor:   %s %v (ncpus %d)\n", profile.SDRCall, profile.SDROptions, profile.NCPUs)
			fmt.Fprintf(out, "  level1 home: %s\n", profile.Level1Home)
			return nil
		},
	}
}
