package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	ninepconfig "github.com/ninep-go/ninepd/internal/ninepfs/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate ninepd configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ninepconfig.Load(cfgFile)
		if err != nil {
			return err
		}
		cmd.Printf("configuration valid: driver=%s bind=%s:%d control=%s:%d\n",
			cfg.Storage.Driver, cfg.BindAddress, cfg.Port, cfg.Control.BindAddress, cfg.Control.Port)
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema for ninepd's configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{ExpandedStruct: true}
		schema := reflector.Reflect(&ninepconfig.ServerConfig{})
		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		cmd.Println(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = ninepconfig.DefaultConfigPath()
		}
		cfg := ninepconfig.GetDefaultConfig()
		if err := ninepconfig.SaveConfig(cfg, path); err != nil {
			return err
		}
		cmd.Printf("configuration written to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configSchemaCmd)
	configCmd.AddCommand(configInitCmd)
}
