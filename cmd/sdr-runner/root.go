package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/sdr-runner/internal/config"
)

type rootOptions struct {
	configFile string
	section    string
	logFile    string
	publisher  string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "sdr-runner",
		Short:         "Run the VIIRS SDR processor on RDR granules as they arrive",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config-file", "c", "sdr_runner.ini", "Site profile file (INI)")
	flags.StringVarP(&opts.section, "config-section", "C", "", "Profile section to use")
	flags.StringVarP(&opts.logFile, "log-file", "l", "", "Also log to this file, rotated at startup and by size, pruned by age")
	flags.StringVarP(&opts.publisher, "publisher", "p", "", "Publisher settings file (YAML)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "json", "Log format: json or text")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newCheckCommand(opts))
	rootCmd.AddCommand(newNotifyCommand(opts))

	return rootCmd
}

func (o *rootOptions) loadProfile() (*config.Profile, config.Publisher, error) {
	if o.section == "" {
		return nil, config.Publisher{}, errors.New("--config-section (-C) is required")
	}
	profile, err := config.Load(o.configFile, o.section)
	if err != nil {
		return nil, config.Publisher{}, err
	}
	pub, err := config.LoadPublisher(o.publisher)
	if err != nil {
		return nil, config.Publisher{}, err
	}
	return profile, pub, nil
}
