package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/chat"
	"kxfer.org/internal/stream"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the AI assistant a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := opts.openSession(cmd.Context())
			if err != nil {
				return err
			}
			reply, err := p.Chat().Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return sessionError(err)
			}
			return opts.emit(cmd.OutOrStdout(), reply, func(w io.Writer) { printReply(w, reply) })
		},
	}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long:  "Reads one question per line until EOF, \"exit\" or \"quit\". The conversation ends when the session does.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			p, u, err := opts.openSession(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			ended := make(chan string, 1)
			events := p.Events().Subscribe(ctx)
			go func() {
				for evt := range events {
					if evt.Kind == stream.KindEnded {
						select {
						case ended <- evt.Reason:
						default:
						}
						return
					}
				}
			}()

			greeting, err := p.Chat().Greeting(u)
			if err != nil {
				return sessionError(err)
			}
			fmt.Fprintln(out, greeting.Content)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}

				reply, err := p.Chat().Ask(ctx, line)
				if errors.Is(err, auth.ErrSessionInvalid) || errors.Is(err, auth.ErrNotAuthenticated) {
					select {
					case reason := <-ended:
						fmt.Fprintf(out, "Session ended (%s). Run `kxfer login` to continue.\n", reason)
					default:
						fmt.Fprintln(out, "Session ended. Run `kxfer login` to continue.")
					}
					return nil
				}
				if err != nil {
					return err
				}
				printReply(out, reply)
			}
		},
	}
}

func printReply(w io.Writer, m chat.Message) {
	fmt.Fprintln(w, m.Content)
	if m.Confidence != nil {
		fmt.Fprintf(w, "  confidence: %.0f%%\n", *m.Confidence*100)
	}
	var labels []string
	for _, src := range m.Sources {
		if src.Artifact != nil {
			labels = append(labels, fmt.Sprintf("#%d %s", src.Artifact.ID, src.Artifact.Title))
		} else if src.Label != "" {
			labels = append(labels, src.Label)
		}
	}
	if len(labels) > 0 {
		fmt.Fprintf(w, "  sources: %s\n", strings.Join(labels, "; "))
	}
}
