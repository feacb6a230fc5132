package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/centrifugal/gocomet/internal/config"
	"github.com/centrifugal/gocomet/internal/tools"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func DefaultConfigCommand() *cobra.Command {
	var defaultConfigFile string
	var defaultConfigCmd = &cobra.Command{
		Use:   "defaultconfig",
		Short: "Generate full configuration file with defaults",
		Long:  `Generate full gocomet configuration file with defaults`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := DefaultConfig(defaultConfigFile); err != nil {
				fmt.Printf("error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	defaultConfigCmd.Flags().StringVarP(&defaultConfigFile, "config", "c", "config.json", "path to default config file to generate")
	return defaultConfigCmd
}

var supportedExtensions = []string{"json", "toml", "yaml", "yml"}

// DefaultConfig writes config with default values to a new file. Format is
// chosen by file extension.
func DefaultConfig(configFile string) error {
	exists, err := tools.PathExists(configFile)
	if err != nil {
		return err
	}
	if exists {
		return errors.New("target file already exists")
	}
	b, err := renderDefaultConfig(strings.TrimPrefix(filepath.Ext(configFile), "."))
	if err != nil {
		return err
	}
	return os.WriteFile(configFile, b, 0644)
}

func renderDefaultConfig(ext string) ([]byte, error) {
	conf := config.DefaultConfig()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	switch ext {
	case "json":
		return json.MarshalIndent(conf, "", "  ")
	case "toml":
		return toml.Marshal(conf)
	case "yaml", "yml":
		return yaml.Marshal(conf)
	default:
		return nil, errors.New("output config file must have one of supported extensions: " + strings.Join(supportedExtensions, ", "))
	}
}
