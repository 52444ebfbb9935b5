package cmds

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/go-go-golems/ollachat/pkg/conversation/store"
	ollama_settings "github.com/go-go-golems/ollachat/pkg/steps/ai/settings/ollama"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelSettingsLayers(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("ollama", map[string]interface{}{
		"model": "llama3",
		"options": map[string]interface{}{
			"temperature": 0.2,
			"top_k":       40,
		},
	})

	cmd := &cobra.Command{Use: "test"}
	AddModelFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--temperature", "0", "--stream=false"}))

	s, err := ModelSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, "llama3", s.GetModel())
	assert.Equal(t, ollama_settings.DefaultEndpoint, s.GetEndpoint())
	require.NotNil(t, s.Options.Temperature)
	assert.Equal(t, 0.0, *s.Options.Temperature)
	require.NotNil(t, s.Options.TopK)
	assert.Equal(t, 40, *s.Options.TopK)
	assert.Equal(t, ollama_settings.DefaultNumCtx, *s.Options.NumCtx)
	assert.False(t, s.IsStreaming())
}

func TestModelSettingsDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cmd := &cobra.Command{Use: "test"}
	AddModelFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(nil))

	s, err := ModelSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, ollama_settings.DefaultModel, s.GetModel())
	assert.True(t, s.IsStreaming())
}

func TestStoreSettingsFromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	viper.Set("store.type", "sqlite")
	viper.Set("store.path", dir+"/chat.db")
	viper.Set("store.max-entries", 5)

	settings := StoreSettings()
	assert.Equal(t, store.TypeSQLite, settings.Type)
	assert.Equal(t, 5, settings.MaxEntries)

	s, closeStore, err := OpenStore()
	require.NoError(t, err)
	defer closeStore()
	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrintMessages(t *testing.T) {
	root := conversation.NewMessage(conversation.RoleUser, "hello", conversation.WithDisplay("User"))
	reply := conversation.NewMessage(conversation.RoleAssistant, "Hi!",
		conversation.WithParentID(root.ID),
		conversation.WithDisplay("Ollama"),
	)
	messages := []*conversation.Message{root, reply}

	var buf bytes.Buffer
	require.NoError(t, printMessages(&buf, "text", messages))
	assert.Equal(t,
		root.ID.String()+" [User]: hello\n"+reply.ID.String()+" [Ollama]: Hi!\n",
		buf.String())

	buf.Reset()
	require.NoError(t, printMessages(&buf, "yaml", messages))
	assert.Contains(t, buf.String(), "content: Hi!")

	buf.Reset()
	require.NoError(t, printMessages(&buf, "json", messages))
	assert.Contains(t, buf.String(), `"content": "hello"`)

	assert.Error(t, printMessages(&buf, "xml", messages))
}

func TestPreview(t *testing.T) {
	m := conversation.NewMessage(conversation.RoleAssistant, "line one\n\nline   two", conversation.WithDisplay("Ollama"))
	assert.Equal(t, "[Ollama] line one line two", preview(m))

	long := conversation.NewMessage(conversation.RoleUser, strings.Repeat("é", 100))
	assert.Equal(t, "[user] "+strings.Repeat("é", previewLength)+"...", preview(long))
}
