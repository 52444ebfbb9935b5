package cmds

import (
	"github.com/go-go-golems/ollachat/pkg/conversation/store"
	ollama_settings "github.com/go-go-golems/ollachat/pkg/steps/ai/settings/ollama"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type effectiveConfig struct {
	ConfigFile string                    `yaml:"config_file,omitempty"`
	Ollama     *ollama_settings.Settings `yaml:"ollama"`
	Store      store.Settings            `yaml:"store"`
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ModelSettings(cmd)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() {
				_ = enc.Close()
			}()
			return enc.Encode(effectiveConfig{
				ConfigFile: viper.ConfigFileUsed(),
				Ollama:     settings,
				Store:      StoreSettings(),
			})
		},
	}
	AddModelFlags(cmd)

	return cmd
}
