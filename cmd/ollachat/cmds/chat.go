package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/ollachat/pkg/chat"
	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/go-go-golems/ollachat/pkg/events"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send a message to the model and store the reply",
		Long: `Send a message to the model and store the reply in a conversation.

Without a message, every line read from stdin is sent as a new message of the same
conversation. Pass --parent to answer an older message and start a new branch.`,
		RunE: runChat,
	}

	cmd.Flags().StringP("conversation", "c", "", "Conversation id (default: a new conversation)")
	cmd.Flags().StringP("parent", "p", "", "Id of the message to answer (default: the last message)")
	cmd.Flags().StringP("system", "s", "", "System message, sent when the conversation is empty")
	cmd.Flags().Bool("replay", false, "Ask for another answer to the parent message without a new message")
	cmd.Flags().Bool("render", false, "Render the reply as markdown when stdout is a terminal")
	cmd.Flags().Bool("raw-events", false, "Print the raw chat events as JSON")
	AddModelFlags(cmd)

	return cmd
}

type chatRun struct {
	client         *chat.Client
	conversationID string
	parentID       conversation.NodeID
	systemMessage  string
	render         bool
	out            io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	settings, err := ModelSettings(cmd)
	if err != nil {
		return err
	}

	s, closeStore, err := OpenStore()
	if err != nil {
		return err
	}
	defer closeStore()

	parentFlag, _ := cmd.Flags().GetString("parent")
	parentID, err := conversation.ParseNodeID(parentFlag)
	if err != nil {
		return errors.Wrapf(err, "invalid parent message id %q", parentFlag)
	}

	renderFlag, _ := cmd.Flags().GetBool("render")
	out := cmd.OutOrStdout()
	render := renderFlag && isatty.IsTerminal(os.Stdout.Fd())
	rawEvents, _ := cmd.Flags().GetBool("raw-events")

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	switch {
	case rawEvents:
		router.AddHandler("raw-events", events.DefaultTopic, router.DumpRawEvents(out))
	case !render:
		router.AddHandler("printer", events.DefaultTopic, events.StepPrinterFunc("", out))
	}

	publisher := events.NewPublisherManager()
	publisher.SubscribePublisher(events.DefaultTopic, router.Publisher)

	conversationID, _ := cmd.Flags().GetString("conversation")
	systemMessage, _ := cmd.Flags().GetString("system")
	run := &chatRun{
		client: chat.NewClient(
			chat.WithStore(s),
			chat.WithSettings(settings),
			chat.WithPublisherManager(publisher),
		),
		conversationID: conversationID,
		parentID:       parentID,
		systemMessage:  systemMessage,
		render:         render,
		out:            out,
	}

	replay, _ := cmd.Flags().GetBool("replay")

	eg, ctx := errgroup.WithContext(ctx)
	routerCtx, cancelRouter := context.WithCancel(ctx)
	eg.Go(func() error {
		return router.Run(routerCtx)
	})
	eg.Go(func() error {
		defer cancelRouter()
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}

		if replay {
			return run.send(ctx, nil)
		}
		if len(args) > 0 {
			return run.send(ctx, conversation.NewUserTurn(strings.Join(args, " ")))
		}
		return run.loop(ctx, cmd.InOrStdin())
	})

	return eg.Wait()
}

// loop sends every non-empty line of r as a follow-up message.
func (r *chatRun) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := r.send(ctx, conversation.NewUserTurn(line)); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func (r *chatRun) send(ctx context.Context, message *conversation.Turn) error {
	opts := []chat.SendOption{
		chat.WithConversationID(r.conversationID),
		chat.WithSystemMessage(r.systemMessage),
	}
	if r.parentID != conversation.NullNode {
		opts = append(opts, chat.WithParentMessageID(r.parentID))
	}

	result, err := r.client.SendMessage(ctx, message, opts...)
	if err != nil {
		if errors.Is(err, chat.ErrCanceled) {
			// interrupting a reply is a normal way to stop
			log.Debug().Err(err).Msg("chat interrupted")
			return nil
		}
		return err
	}

	// follow-ups continue from the stored reply
	r.conversationID = result.ConversationID
	r.parentID = result.MessageID

	if r.render {
		if err := renderMarkdown(r.out, result.Response); err != nil {
			return err
		}
	}

	log.Info().
		Str("conversation", result.ConversationID).
		Str("message", result.MessageID.String()).
		Str("parent", result.ParentID.String()).
		Msg("reply stored")

	return nil
}

func renderMarkdown(w io.Writer, text string) error {
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, rendered)
	return err
}
