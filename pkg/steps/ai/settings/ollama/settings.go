package ollama

import (
	"github.com/go-go-golems/ollachat/pkg/helpers"
	"github.com/huandu/go-clone"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint = "http://127.0.0.1:11434/api/chat"
	DefaultModel    = "hermes3:8b"
	DefaultNumCtx   = 4096
)

// Options are the sampling parameters sent as "options" in a chat request.
// See PARAMETER in the ollama Modelfile docs.
type Options struct {
	Mirostat      *int     `yaml:"mirostat,omitempty" mapstructure:"mirostat"`
	MirostatEta   *float64 `yaml:"mirostat_eta,omitempty" mapstructure:"mirostat_eta"`
	MirostatTau   *float64 `yaml:"mirostat_tau,omitempty" mapstructure:"mirostat_tau"`
	NumCtx        *int     `yaml:"num_ctx,omitempty" mapstructure:"num_ctx"`
	NumGqa        *int     `yaml:"num_gqa,omitempty" mapstructure:"num_gqa"`
	NumGpu        *int     `yaml:"num_gpu,omitempty" mapstructure:"num_gpu"`
	NumThread     *int     `yaml:"num_thread,omitempty" mapstructure:"num_thread"`
	RepeatLastN   *int     `yaml:"repeat_last_n,omitempty" mapstructure:"repeat_last_n"`
	RepeatPenalty *float64 `yaml:"repeat_penalty,omitempty" mapstructure:"repeat_penalty"`
	Temperature   *float64 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	Seed          *int     `yaml:"seed,omitempty" mapstructure:"seed"`
	Stop          []string `yaml:"stop,omitempty" mapstructure:"stop"`
	TfsZ          *float64 `yaml:"tfs_z,omitempty" mapstructure:"tfs_z"`
	NumPredict    *int     `yaml:"num_predict,omitempty" mapstructure:"num_predict"`
	TopK          *int     `yaml:"top_k,omitempty" mapstructure:"top_k"`
	TopP          *float64 `yaml:"top_p,omitempty" mapstructure:"top_p"`
}

// Settings is the persistent model configuration of a client. Nil fields are unset, so a
// partially filled Settings can be merged on top of another one.
type Settings struct {
	Endpoint  *string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Model     *string `yaml:"model,omitempty" mapstructure:"model"`
	Stream    *bool   `yaml:"stream,omitempty" mapstructure:"stream"`
	Format    *string `yaml:"format,omitempty" mapstructure:"format"`
	KeepAlive *string `yaml:"keep_alive,omitempty" mapstructure:"keep_alive"`

	Options Options `yaml:"options,omitempty" mapstructure:"options"`
}

func NewSettings() *Settings {
	return &Settings{}
}

// DefaultSettings streams from a local ollama with a 4096 token context.
func DefaultSettings() *Settings {
	endpoint := DefaultEndpoint
	model := DefaultModel
	stream := true
	numCtx := DefaultNumCtx
	temperature := 1.0

	return &Settings{
		Endpoint: &endpoint,
		Model:    &model,
		Stream:   &stream,
		Options: Options{
			NumCtx:      &numCtx,
			Temperature: &temperature,
		},
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// Merge returns a copy of s with every field set in overrides replacing the current value.
// Neither s nor overrides is modified.
func (s *Settings) Merge(overrides *Settings) (*Settings, error) {
	ret := s.Clone()
	if overrides == nil {
		return ret, nil
	}
	if err := mergo.Merge(ret, overrides.Clone(), mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return nil, errors.Wrap(err, "could not merge ollama settings")
	}
	return ret, nil
}

func (s *Settings) GetEndpoint() string {
	if s.Endpoint == nil || *s.Endpoint == "" {
		return DefaultEndpoint
	}
	return *s.Endpoint
}

func (s *Settings) GetModel() string {
	if s.Model == nil || *s.Model == "" {
		return DefaultModel
	}
	return *s.Model
}

func (s *Settings) IsStreaming() bool {
	return helpers.ValueOr(s.Stream, true)
}

// OptionsMap converts the sampling options to the map sent on the wire, skipping unset
// fields. The conversion goes through YAML so the map keys are the ollama parameter names.
func (s *Settings) OptionsMap() (map[string]interface{}, error) {
	b, err := yaml.Marshal(s.Options)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal ollama options")
	}
	ret := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &ret); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal ollama options")
	}
	return ret, nil
}

// GetMetadata describes the request settings, it is sent as the extra metadata of every
// chat event.
func (s *Settings) GetMetadata() map[string]interface{} {
	ret := map[string]interface{}{
		"ollama-model":    s.GetModel(),
		"ollama-endpoint": s.GetEndpoint(),
		"ollama-stream":   s.IsStreaming(),
	}
	if s.Options.Temperature != nil {
		ret["ollama-temperature"] = *s.Options.Temperature
	}
	if s.Options.NumCtx != nil {
		ret["ollama-num-ctx"] = *s.Options.NumCtx
	}
	return ret
}
