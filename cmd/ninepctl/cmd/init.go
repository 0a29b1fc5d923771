package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	ninepconfig "github.com/ninep-go/ninepd/internal/ninepfs/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create a ninepd configuration file",
	Long: `init walks through the storage driver and listener settings a new
ninepd server needs, then writes a config.yaml the server can be started
against directly.`,
	RunE: runInit,
}

var initOutputPath string

func init() {
	initCmd.Flags().StringVar(&initOutputPath, "output", "", "path to write the config file (default: $XDG_CONFIG_HOME/ninepd/config.yaml)")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := ninepconfig.GetDefaultConfig()

	bindPrompt := promptui.Prompt{Label: "Bind address", Default: cfg.BindAddress}
	bind, err := bindPrompt.Run()
	if err != nil {
		return wrapPromptErr(err)
	}
	cfg.BindAddress = bind

	portPrompt := promptui.Prompt{
		Label:   "Port",
		Default: strconv.Itoa(cfg.Port),
		Validate: func(input string) error {
			port, err := strconv.Atoi(input)
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("must be a valid port (1-65535)")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return wrapPromptErr(err)
	}
	cfg.Port, _ = strconv.Atoi(portStr)

	driverSelect := promptui.Select{
		Label: "Storage driver",
		Items: []string{"memory", "local", "s3"},
	}
	_, driver, err := driverSelect.Run()
	if err != nil {
		return wrapPromptErr(err)
	}
	cfg.Storage.Driver = driver

	switch driver {
	case "local":
		pathPrompt := promptui.Prompt{Label: "Local storage base path", Default: cfg.Storage.Local.BasePath}
		path, err := pathPrompt.Run()
		if err != nil {
			return wrapPromptErr(err)
		}
		cfg.Storage.Local.BasePath = path
		cfg.Storage.Local.CreateDir = true
	case "s3":
		bucketPrompt := promptui.Prompt{Label: "S3 bucket"}
		bucket, err := bucketPrompt.Run()
		if err != nil {
			return wrapPromptErr(err)
		}
		cfg.Storage.S3.Bucket = bucket
	}

	ninepconfig.ApplyDefaults(cfg)
	if err := ninepconfig.Validate(cfg); err != nil {
		return err
	}

	path := initOutputPath
	if path == "" {
		path = ninepconfig.DefaultConfigPath()
	}
	if err := ninepconfig.SaveConfig(cfg, path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", path)
	return nil
}

func wrapPromptErr(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		return errors.New("aborted")
	}
	return err
}
