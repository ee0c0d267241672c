package config

import (
	"fmt"
	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"io"
	"os"
)

var (
	outPath string

	// ConfigCommands represents the config command group
	ConfigCommands = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Print the configuration that results from the defaults, the --config file, DNET_* environment variables and flags. The output can be used as --config file.",
	}

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Print the listener configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			conf, err := util.GetServerConfig()
			if err != nil {
				return err
			}
			return dump(cmd.OutOrStdout(), conf)
		},
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Print the connector configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			conf, err := util.GetClientConfig()
			if err != nil {
				return err
			}
			return dump(cmd.OutOrStdout(), conf)
		},
	}
)

func init() {
	util.SetupServerFlags(serverCmd)
	util.SetupClientFlags(clientCmd)

	ConfigCommands.AddCommand(serverCmd)
	ConfigCommands.AddCommand(clientCmd)

	ConfigCommands.PersistentFlags().StringVar(&outPath, "out", "", util.WrapString("Write the YAML to this file instead of stdout"))
}

// dump encodes the config as YAML to stdout or the --out file
func dump(stdout io.Writer, conf interface{}) error {
	w := stdout
	if outPath != "" {
		file, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outPath, err)
		}
		defer file.Close()
		w = file
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(conf); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}
