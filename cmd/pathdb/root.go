package main

import (
	"github.com/spf13/cobra"

	"github.com/andreyvit/pathdb/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile  string
	Backend  string
	BoltPath string
	Verbose  bool
}

// load reads the configuration and applies flag overrides.
func (o *RootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return nil, err
	}
	if o.Backend != "" {
		cfg.Store.Backend = o.Backend
	}
	if o.BoltPath != "" {
		cfg.Bolt.Path = o.BoltPath
	}
	if o.Verbose {
		cfg.Store.Verbose = true
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "pathdb",
		Short:         "Document store indexed by every field path",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "override the storage backend (bolt|memory|redis|dynamodb)")
	cmd.PersistentFlags().StringVar(&opts.BoltPath, "db", "", "override the Bolt database path")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log every write")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}
