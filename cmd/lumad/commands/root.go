package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/lumad/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "lumad",
		Short: "lumad - screen luminance daemon",
		Long: `lumad measures how bright the content of each display is by exporting
compositor frames to the GPU and reducing them to a single perceived
lightness percentage.

Features:
  • Zero-copy dma-buf capture on wlroots compositors
  • Vulkan mipmap reduction of every frame
  • X11 fallback capture through RandR
  • HTTP/WebSocket status API
  • Session bus signals for every reading`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/lumad/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human readable log output")
	rootCmd.PersistentFlags().String("processor", "", "frame processor (vulkan, opengl)")
	rootCmd.PersistentFlags().Int("api-port", 0, "enable the status API on this port")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty_log", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("processor", rootCmd.PersistentFlags().Lookup("processor"))
	viper.BindPFlag("api_port", rootCmd.PersistentFlags().Lookup("api-port"))
}

func initConfig() {
	// LUMAD_LOG_LEVEL, LUMAD_PROCESSOR, ...
	viper.SetEnvPrefix("lumad")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
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

// loadConfig loads the config file and applies flag and environment overrides
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	if viper.IsSet("pretty_log") {
		configMgr.SetPrettyLog(viper.GetBool("pretty_log"))
	}
	if viper.IsSet("processor") {
		if p := viper.GetString("processor"); p != "" {
			configMgr.SetProcessor(config.Processor(p))
		}
	}
	if viper.IsSet("api_port") {
		if port := viper.GetInt("api_port"); port > 0 {
			configMgr.SetAPIPort(port)
		}
	}

	return configMgr, nil
}
