package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dNet/cmd/client"
	"github.com/ValentinKolb/dNet/cmd/config"
	"github.com/ValentinKolb/dNet/cmd/serve"
	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dnet",
		Short: "async tcp server/client engine",
		Long: fmt.Sprintf(`dNet (v%s)

An asynchronous TCP and Unix socket engine written in Go, with pooled
connections, length prefixed framing, optional compression and encryption
and a packet queue that is drained by the application.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dNet",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dNet v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCommands)
	RootCmd.AddCommand(config.ConfigCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "config"
	RootCmd.PersistentFlags().StringVar(&util.ConfigFile, key, "", util.WrapString("YAML config file (see dnet config), flags and DNET_* environment variables take precedence"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
