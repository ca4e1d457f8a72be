package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "irisstreamer",
		Short: "IrisStreamer - streaming iris depth estimation",
		Long: `IrisStreamer pushes frames from a camera, the X11 screen, an image
directory or a synthetic test scene through a graph of calculators and
reports the distance from the camera to each iris.

Features:
  • Configurable calculator graph with a fixed execution order
  • Per-eye iris depth from the camera focal length
  • Annotated MJPEG stream and live depth over websocket
  • CBOR recordings and ZeroMQ publishing of depth values
  • Persistent YAML configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/irisstreamer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	logger.Init(viper.GetString("log_level"), viper.GetBool("pretty"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config manager and applies flag overrides to the
// returned copy. Overrides are not saved.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()

	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	return configMgr, cfg, nil
}
