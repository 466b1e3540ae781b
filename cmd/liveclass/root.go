package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liveclass/internal/config"
)

// cli carries the state shared by every subcommand.
type cli struct {
	cfgFile string
	v       *viper.Viper
}

func (c *cli) loadConfig() (*config.Config, error) {
	return config.Load(c.v, c.cfgFile)
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "liveclass",
		Short: "Real-time session server for the collaborative classroom IDE",
		Long: `liveclass coordinates classroom sessions: presence, code and cursor
relay, chat, typing indicators and WebRTC call signaling over websockets.

Configuration is read from an optional YAML/JSON file, then LIVECLASS_*
environment variables (a .env file is loaded first), then flags.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (yaml or json)")

	rootCmd.AddCommand(newServeCmd(c), newTokenCmd(c))
	return rootCmd
}
