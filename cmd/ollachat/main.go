package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/ollachat/cmd/ollachat/cmds"
	"github.com/go-go-golems/ollachat/pkg/conversation/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:          "ollachat",
	Short:        "ollachat keeps branching conversations with a local Ollama model",
	SilenceUsage: true,
}

type logSettings struct {
	Level      string
	Format     string
	File       string
	WithCaller bool
}

func logSettingsFromViper() logSettings {
	ret := logSettings{
		Level:      viper.GetString("log-level"),
		Format:     viper.GetString("log-format"),
		File:       viper.GetString("log-file"),
		WithCaller: viper.GetBool("with-caller"),
	}
	if viper.GetBool("verbose") && ret.Level != zerolog.LevelTraceValue {
		ret.Level = zerolog.LevelDebugValue
	}
	return ret
}

// setupLogging points the global zerolog logger at stderr, and also at a rotated
// plain text file when one is configured.
func setupLogging(s logSettings) error {
	level, err := zerolog.ParseLevel(s.Level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", s.Level)
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if s.Format == "text" {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if s.File != "" {
		w = zerolog.MultiLevelWriter(w, zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   s.File,
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		})
	}

	ctx := zerolog.New(w).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

// loadConfig reads the config file when there is one. Settings are looked up in the
// environment as OLLACHAT_<KEY>, with dashes and dots turned into underscores.
func loadConfig(path string) error {
	viper.SetEnvPrefix("ollachat")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".ollachat"))
		}
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "ollachat"))
		}
	}

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return errors.Wrap(err, "could not read config file")
	}
	return nil
}

func bindFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	if err := viper.BindPFlags(flags); err != nil {
		return err
	}
	// the store settings also live in a "store" section of the config file
	for _, name := range []string{"type", "path", "namespace", "max-entries"} {
		if err := viper.BindPFlag("store."+name, flags.Lookup("store-"+name)); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "warn", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Also write logs to this file, rotated at 10MB")
	flags.Bool("with-caller", false, "Log caller")
	flags.Bool("verbose", false, "Log at debug level and trace the event router")
	flags.String("config", "", "Path to config file (default ~/.ollachat/config.yaml)")

	flags.String("store-type", string(store.TypeFile), "Conversation store (memory, file, bolt, sqlite)")
	flags.String("store-path", "", "Directory of the file store, database file of the bolt and sqlite stores")
	flags.String("store-namespace", store.DefaultNamespace, "Namespace separating conversations of different clients")
	flags.Int("store-max-entries", 0, "Maximum number of stored conversations, 0 for no limit")

	cobra.CheckErr(bindFlags(rootCmd))

	cobra.OnInitialize(func() {
		cobra.CheckErr(loadConfig(viper.GetString("config")))
		cobra.CheckErr(setupLogging(logSettingsFromViper()))
		log.Debug().Str("config", viper.ConfigFileUsed()).Msg("configuration loaded")
	})

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewHistoryCommand(),
		cmds.NewBranchesCommand(),
		cmds.NewConfigCommand(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
