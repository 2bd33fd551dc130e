package commands

import (
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/ledgerd/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for ledgerd
var RootCmd = &cobra.Command{
	Use:              "ledgerd",
	Short:            "ledgerd peer-to-peer ledger node",
	TraverseChildren: true,
}
