package client

import (
	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/ValentinKolb/dNet/rpc/transport/base"
	"github.com/spf13/cobra"
)

var (
	connector  *base.Connector
	clientConf common.ClientConfig

	// ClientCommands represents the client command group
	ClientCommands = &cobra.Command{
		Use:               "client",
		Short:             "Send packets to a dNet listener",
		PersistentPreRunE: setupConnector,
	}
)

func init() {
	// Add common connection flags to the client command
	util.SetupClientFlags(ClientCommands)

	// Add subcommands
	ClientCommands.AddCommand(sendCmd)
	ClientCommands.AddCommand(perfTestCmd)
}

// setupConnector initializes the connector used by the subcommands
func setupConnector(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	clientConf = conf

	if err := common.InitLoggers(clientConf.LogLevel); err != nil {
		return err
	}

	connector, err = util.NewConnector(clientConf)
	return err
}

// closeConnector disposes all connections of the connector
func closeConnector() {
	if connector == nil {
		return
	}
	if err := connector.Close(); err != nil {
		util.Logger.Warningf("failed to close connector: %v", err)
	}
}
