// Command chat talks to the portfolio assistant from a terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/folio-chat/internal/conversation"
)

type options struct {
	endpoint string
	mode     string
	history  int
	baseURL  string
	timeout  time.Duration
	verbose  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the portfolio assistant",
		Long: `chat reads questions from stdin, one per line, and prints the
assistant's answers as plain text.

Examples:
  chat --endpoint http://localhost:8080/api/chat
  chat --mode single-shot --endpoint http://localhost:8080/api/chat/reply
  chat --mode websocket --endpoint ws://localhost:8080/api/chat/ws`,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "http://localhost:8080/api/chat", "Assistant endpoint URL")
	cmd.Flags().StringVar(&opts.mode, "mode", string(conversation.ModeStreaming), "Transport: streaming, single-shot or websocket")
	cmd.Flags().IntVar(&opts.history, "history", 0, "Prior turns sent with each question (0 = mode default, -1 = none)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Prefix for page links in answers")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Per-question timeout")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log diagnostics to stderr")

	return cmd
}

func runChat(ctx context.Context, opts *options, in io.Reader, out, errOut io.Writer) error {
	mode, err := conversation.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	view := newTerminalView(out)
	ctrl, err := conversation.New(conversation.Config{
		Mode:         mode,
		Endpoint:     opts.endpoint,
		HistoryDepth: opts.history,
		BaseURL:      opts.baseURL,
		HTTPClient:   &http.Client{},
		View:         view,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctrl.OpenWidget()
	defer ctrl.CloseWidget()

	scanner := bufio.NewScanner(in)
	for {
		view.Prompt()
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		qctx, cancel := context.WithTimeout(ctx, opts.timeout)
		err := ctrl.Send(qctx, line)
		cancel()
		switch {
		case err == nil, errors.Is(err, conversation.ErrTransport):
			// Failures are already shown as an apology.
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Fprintln(errOut, "timed out waiting for an answer")
		default:
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
