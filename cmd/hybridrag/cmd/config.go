package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Inspect the effective configuration and manage the user config file.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/hybridrag/config.yaml)
  3. Project config (.hybridrag.yaml, or --config)
  4. .env file in the working directory
  5. Environment variables (HYBRIDRAG_*)`,
		Example: `  # Show effective configuration
  hybridrag config show

  # Create user config with defaults
  hybridrag config init

  # Print user config file path
  hybridrag config path`,
	}

	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigBackupsCmd())
	cmd.AddCommand(newConfigRestoreCmd(g))

	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.New(cmd.OutOrStdout(), true).JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file with defaults",
		Long: `Write the default configuration to ~/.config/hybridrag/config.yaml
(or $XDG_CONFIG_HOME/hybridrag/config.yaml). An existing file is kept
unless --force is given, in which case it is backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout(), g.colorDisabled())
			path, backup, err := config.InitUserConfig(force)
			if err != nil {
				return err
			}
			if backup != "" {
				out.Statusf("", "Backed up previous config to %s", backup)
			}
			out.Successf("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List user configuration backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			for _, b := range backups {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), b); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newConfigRestoreCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup>",
		Short: "Restore the user configuration from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RestoreUserConfig(args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout(), g.colorDisabled()).Successf("Restored %s", config.GetUserConfigPath())
			return nil
		},
	}
}
