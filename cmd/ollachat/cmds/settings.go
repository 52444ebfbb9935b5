package cmds

import (
	"github.com/go-go-golems/ollachat/pkg/conversation/store"
	"github.com/go-go-golems/ollachat/pkg/helpers"
	ollama_settings "github.com/go-go-golems/ollachat/pkg/steps/ai/settings/ollama"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AddModelFlags registers the flags that override the model section of the config file.
func AddModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "Model name (default "+ollama_settings.DefaultModel+")")
	cmd.Flags().String("endpoint", "", "Chat endpoint (default "+ollama_settings.DefaultEndpoint+")")
	cmd.Flags().Float64("temperature", 0, "Sampling temperature")
	cmd.Flags().Int("num-ctx", 0, "Context window size in tokens")
	cmd.Flags().Int("seed", 0, "Sampling seed")
	cmd.Flags().Bool("stream", true, "Stream the reply as it is generated")
	cmd.Flags().String("format", "", "Response format, e.g. json")
	cmd.Flags().String("keep-alive", "", "How long the model stays loaded, e.g. 5m")
}

// ModelSettings starts from the defaults, applies the `ollama` section of the config file,
// then every model flag given on the command line.
func ModelSettings(cmd *cobra.Command) (*ollama_settings.Settings, error) {
	fromConfig := ollama_settings.NewSettings()
	if viper.IsSet("ollama") {
		if err := viper.UnmarshalKey("ollama", fromConfig); err != nil {
			return nil, errors.Wrap(err, "could not parse ollama settings")
		}
	}

	ret, err := ollama_settings.DefaultSettings().Merge(fromConfig)
	if err != nil {
		return nil, err
	}

	overrides := ollama_settings.NewSettings()
	flags := cmd.Flags()
	if flags.Changed("model") {
		v, _ := flags.GetString("model")
		overrides.Model = &v
	}
	if flags.Changed("endpoint") {
		v, _ := flags.GetString("endpoint")
		overrides.Endpoint = &v
	}
	if flags.Changed("temperature") {
		v, _ := flags.GetFloat64("temperature")
		overrides.Options.Temperature = &v
	}
	if flags.Changed("num-ctx") {
		v, _ := flags.GetInt("num-ctx")
		overrides.Options.NumCtx = &v
	}
	if flags.Changed("seed") {
		v, _ := flags.GetInt("seed")
		overrides.Options.Seed = &v
	}
	if flags.Changed("stream") {
		v, _ := flags.GetBool("stream")
		overrides.Stream = helpers.ToPointer(v)
	}
	if flags.Changed("format") {
		v, _ := flags.GetString("format")
		overrides.Format = &v
	}
	if flags.Changed("keep-alive") {
		v, _ := flags.GetString("keep-alive")
		overrides.KeepAlive = &v
	}

	return ret.Merge(overrides)
}

func StoreSettings() store.Settings {
	return store.Settings{
		Type:       store.Type(viper.GetString("store.type")),
		Path:       viper.GetString("store.path"),
		Namespace:  viper.GetString("store.namespace"),
		MaxEntries: viper.GetInt("store.max-entries"),
	}
}

// OpenStore opens the configured conversation store. The returned func closes it.
func OpenStore() (store.Store, func(), error) {
	s, err := store.New(StoreSettings())
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {}
	if closer, ok := s.(store.Closer); ok {
		closeFn = func() {
			_ = closer.Close()
		}
	}
	return s, closeFn, nil
}
