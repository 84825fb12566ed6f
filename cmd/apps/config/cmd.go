package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/basenana/phenfs/config"
)

var WorkSpace string

func init() {
	RunCmd.PersistentFlags().StringVar(&WorkSpace, "workspace", config.LocalUserPath(), "phenfs workspace")
	RunCmd.AddCommand(initCmd)
}

var RunCmd = &cobra.Command{
	Use:   "config",
	Short: "phenfs config management",
	Run: func(cmd *cobra.Command, args []string) {
		configPath := localConfigFilePath(WorkSpace)
		fmt.Printf("Workspace Config: %s\n\n", configPath)

		cfg, err := config.NewFileLoader(configPath).GetConfig()
		if err != nil {
			fmt.Printf("load config failed: %s\n", err.Error())
			fmt.Println("Generate local configuration with 'phenfs config init'")
			return
		}

		raw, err := json.MarshalIndent(cfg, "", "    ")
		if err != nil {
			fmt.Printf("marshal config failed: %s\n", err.Error())
			return
		}
		fmt.Println(string(raw))
	},
}

func localConfigFilePath(workspace string) string {
	return path.Join(workspace, config.DefaultConfigBase)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "generate local configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if err := initDefaultConfig(WorkSpace); err != nil {
			fmt.Printf("init workspace failed: %s\n", err.Error())
			return
		}
		fmt.Println("Generate local configuration succeed")
	},
}

func initDefaultConfig(workspace string) error {
	fmt.Printf("Workspace: %s\n", workspace)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return err
	}
	configPath := localConfigFilePath(workspace)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	cfg, err := config.DefaultConfig(workspace)
	if err != nil {
		return err
	}
	fmt.Printf("Workspace Config: %s\n", configPath)
	return config.WriteConfig(configPath, cfg)
}
