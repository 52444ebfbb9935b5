package cmds

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/go-go-golems/ollachat/pkg/conversation/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const previewLength = 60

func NewBranchesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branches <conversation-id>",
		Short: "List the branches of a conversation",
		Long: `List the branches of a conversation, one line per leaf message.

With --message, list the replies stored for that message instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := OpenStore()
			if err != nil {
				return err
			}
			defer closeStore()

			c, ok, err := s.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrapf(store.ErrNotFound, "conversation %q", args[0])
			}

			messageFlag, _ := cmd.Flags().GetString("message")
			if messageFlag != "" {
				id, err := conversation.ParseNodeID(messageFlag)
				if err != nil {
					return errors.Wrapf(err, "invalid message id %q", messageFlag)
				}
				if _, ok := c.Get(id); !ok {
					return errors.Errorf("message %s not found", id)
				}
				for _, child := range c.Children(id) {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", child.ID, preview(child)); err != nil {
						return err
					}
				}
				return nil
			}

			for _, leaf := range c.Leaves() {
				depth := len(c.Thread(leaf.ID))
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\tdepth %d\t%s\n", leaf.ID, depth, preview(leaf))
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringP("message", "m", "", "List the replies to this message")

	return cmd
}

func preview(m *conversation.Message) string {
	text := strings.Join(strings.Fields(m.Content), " ")
	if len([]rune(text)) > previewLength {
		text = string([]rune(text)[:previewLength]) + "..."
	}
	label := m.Display
	if label == "" {
		label = string(m.Role)
	}
	return fmt.Sprintf("[%s] %s", label, text)
}
