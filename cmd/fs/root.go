package fs

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dBridge/cmd/util"
	"github.com/ValentinKolb/dBridge/lib/fsops"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	session *util.Session

	// FSCommands represents the file operation command group
	FSCommands = &cobra.Command{
		Use:   "fs",
		Short: "Run file operations through a bridge channel",
		Long: `Run file operations through a bridge channel.

Every command starts a dispatcher serving the file operations confined to
--root, connects a channel to it and performs its calls over that channel.
The configuration can be set via command line flags or environment variables
in the format DBRIDGE_<flag> (e.g. DBRIDGE_SEGMENT_LENGTH=65536).`,
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add channel flags to the fs command
	util.SetupChannelFlags(FSCommands)

	// Add subcommands
	FSCommands.AddCommand(statCmd)
	FSCommands.AddCommand(catCmd)
	FSCommands.AddCommand(writeCmd)
	FSCommands.AddCommand(mkdirCmd)
	FSCommands.AddCommand(lsCmd)
	FSCommands.AddCommand(rmCmd)
	FSCommands.AddCommand(callCmd)
	FSCommands.AddCommand(opsCmd)
	FSCommands.AddCommand(perfTestCmd)
}

// setupSession starts the dispatcher and connects the channel
func setupSession(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	files, err := fsops.New(util.GetRoot())
	if err != nil {
		return err
	}

	session, err = util.OpenSession(util.GetChannelConfig(), files.Register)
	return err
}

// closeSession tears the session down and optionally dumps the metrics
func closeSession(_ *cobra.Command, _ []string) error {
	if session == nil {
		return nil
	}
	err := session.Close()
	session = nil

	if viper.GetBool("metrics") {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, false)
	}
	return err
}
