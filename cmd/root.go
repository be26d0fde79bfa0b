package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/cmd/fs"
	"github.com/ValentinKolb/dBridge/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dbridge",
		Short: "synchronous calls across a shared memory segment",
		Long: fmt.Sprintf(`dBridge (v%s)

A synchronous call bridge written in Go. A caller posts a request into a
shared segment, a dispatcher executes the operation and writes the response
back into the same segment.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dBridge",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dBridge v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(fs.FSCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, common.DefaultSerializerName, util.WrapString("serializer to use (binary, json)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
