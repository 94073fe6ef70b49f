package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/SplitView/internal/config"
	"github.com/bryanchriswhite/SplitView/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "splitview",
		Short: "SplitView - live camera feed next to its processed version",
		Long: `SplitView captures a live video stream, runs it through a visual
transform in one-second batches and shows the original and processed frames
side by side in real time.

Features:
  • Webcam, video file, X11 screen or synthetic test pattern sources
  • Placeholder threshold effect, identity, or an external model command
  • OpenCV window, plain X11 window, or MJPEG stream in the browser
  • Non-blocking bounded queues: capture never waits on the model
  • REST + WebSocket API for stats and remote stop
  • Offline processing of video files`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/splitview/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "API server port, 0 disables the server (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig reads the configuration with flag and env overrides applied
// and configures logging from it
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(cfgFile, viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}

// bindFlags binds cmd's local flags to config keys. Binding happens just
// before the command runs so commands sharing a key don't clobber each other.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
