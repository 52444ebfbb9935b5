package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// StepPrinterFunc returns a handler that prints streamed deltas to w as they arrive,
// prefixed once with name.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	printed := ""

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		printName := func() error {
			if isFirst && name != "" {
				isFirst = false
				_, err := fmt.Fprintf(w, "\n%s: \n", name)
				return err
			}
			return nil
		}

		switch p_ := e.(type) {
		case *EventPartialCompletionStart:
			isFirst = true
			printed = ""

		case *EventPartialCompletion:
			if err := printName(); err != nil {
				return err
			}
			printed += p_.Delta
			_, err = fmt.Fprintf(w, "%s", p_.Delta)
			if err != nil {
				return err
			}

		case *EventFinal:
			// non streaming replies only show up here
			if printed == "" && p_.Text != "" {
				if err := printName(); err != nil {
					return err
				}
				if _, err := fmt.Fprint(w, p_.Text); err != nil {
					return err
				}
			}
			if !strings.HasSuffix(p_.Text, "\n") {
				_, err = fmt.Fprintf(w, "\n")
				if err != nil {
					return err
				}
			}

		case *EventInterrupt:
			if _, err := fmt.Fprintf(w, "\n[interrupted]\n"); err != nil {
				return err
			}

		case *EventError:
			if _, err := fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString); err != nil {
				return err
			}
		}

		return nil
	}
}
