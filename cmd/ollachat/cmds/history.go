package cmds

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/go-go-golems/ollachat/pkg/conversation/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List stored conversations or print the thread of one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := OpenStore()
			if err != nil {
				return err
			}
			defer closeStore()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listConversations(cmd, s, out)
			}

			c, ok, err := s.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrapf(store.ErrNotFound, "conversation %q", args[0])
			}

			messageFlag, _ := cmd.Flags().GetString("message")
			leafID, err := conversation.ParseNodeID(messageFlag)
			if err != nil {
				return errors.Wrapf(err, "invalid message id %q", messageFlag)
			}

			all, _ := cmd.Flags().GetBool("all")
			var messages []*conversation.Message
			if all {
				messages = c.Messages
			} else {
				messages = c.Thread(leafID)
			}

			output, _ := cmd.Flags().GetString("output")
			return printMessages(out, output, messages)
		},
	}

	cmd.Flags().StringP("message", "m", "", "Print the thread leading to this message (default: the last message)")
	cmd.Flags().Bool("all", false, "Print every stored message in insertion order, across all branches")
	cmd.Flags().StringP("output", "o", "text", "Output format (text, yaml, json)")

	return cmd
}

func listConversations(cmd *cobra.Command, s store.Store, out io.Writer) error {
	lister, ok := s.(store.Lister)
	if !ok {
		return errors.New("the configured store cannot list conversations")
	}
	ids, err := lister.List(cmd.Context())
	if err != nil {
		return err
	}
	for _, id := range ids {
		c, ok, err := s.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		_, err = fmt.Fprintf(out, "%s\t%s\t%d messages\n", id, c.CreatedAt.Format("2006-01-02 15:04"), c.Len())
		if err != nil {
			return err
		}
	}
	return nil
}

func printMessages(out io.Writer, format string, messages []*conversation.Message) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(messages)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(messages)
	case "text", "":
		for _, m := range messages {
			if _, err := fmt.Fprintf(out, "%s %s\n", m.ID, m.View()); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
