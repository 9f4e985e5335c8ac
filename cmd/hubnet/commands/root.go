package commands

import (
	"github.com/mosaicnetworks/hubnet/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for hubnet
var RootCmd = &cobra.Command{
	Use:              "hubnet",
	Short:            "hub and leaf overlay node",
	TraverseChildren: true,
}
