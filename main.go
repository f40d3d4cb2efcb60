// Package main provides the entry point for the voiceover CLI.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/voiceover/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "voiceover",
		Short: "Prefetch narration audio ahead of the listener",
		Long: paragraph(
			fmt.Sprintf("\nSynthesize a narrative script %s, in the order it will be heard.", keyword("ahead of time")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig()
		},
	}
)

// initConfig reads the configuration file and raises the log level when
// asked to.
func initConfig() error {
	used, err := config.Init(viper.GetViper(), configFile)
	if err != nil {
		return err
	}
	configFile = used

	if p := viper.GetString("log.file"); p != "" && os.Getenv(config.EnvPrefix+"LOG_FILE") == "" {
		if err := openLog(p); err != nil {
			return err
		}
	}

	if debug || viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	} else if lvl, err := log.ParseLevel(viper.GetString("log.level")); err == nil {
		log.SetLevel(lvl)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default voiceover.yml in the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(runCmd, splitCmd, configCmd, manCmd)
}
