package command

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/studiovault/internal/collection"
	"github.com/kimhsiao/studiovault/internal/config"
	"github.com/kimhsiao/studiovault/internal/services"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	Vault        *services.Vault
	Config       *config.Config
	JSONMode     bool
	CollectionID string
}

func configManager(cmd *cobra.Command) (*config.ConfigManager, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.NewConfigManagerWithPath(path), nil
	}
	return config.NewConfigManager()
}

// GetContext loads the config and opens the vault for a command.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	cm, err := configManager(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := cm.Load()
	if err != nil {
		return nil, err
	}
	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		cfg.Offline = true
	}
	services.InitLogging(cfg.Logging)

	vault, err := services.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}

	jsonMode, _ := cmd.Flags().GetBool("json")
	collectionID, _ := cmd.Flags().GetString("collection")
	return &CommandContext{
		Vault:        vault,
		Config:       cfg,
		JSONMode:     jsonMode,
		CollectionID: collectionID,
	}, nil
}

// Collection returns the collection selected by --collection.
func (c *CommandContext) Collection() (*collection.Collection, error) {
	return c.Vault.Collection(c.CollectionID)
}

// Close releases the vault.
func (c *CommandContext) Close() {
	_ = c.Vault.Close()
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
