package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ride-messaging/internal/auth"
	"ride-messaging/internal/config"
	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/session"
	"ride-messaging/internal/store"
	"ride-messaging/internal/transport"
)

func newClientCmd(configPath *string) *cobra.Command {
	var (
		userID string
		token  string
		peerID string
		rideID string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Chat with a peer through the relay from the terminal",
		Long: `Open a messaging session as --user and exchange messages with --peer.
Each stdin line is sent as a message. Lines starting with / are commands:

  /read     mark the conversation read
  /typing   send a typing indicator
  /retry    retry every failed message
  /quit     leave`,
		Example: `  ride-messaging-relay client --user rider-1 --peer driver-9 --ride ride-7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), *configPath, userID, token, peerID, rideID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Local user id")
	cmd.Flags().StringVar(&token, "token", "", "Relay token; minted from relay.jwt_secret when empty")
	cmd.Flags().StringVar(&peerID, "peer", "", "User id to chat with")
	cmd.Flags().StringVar(&rideID, "ride", "", "Ride the conversation belongs to")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func runClient(ctx context.Context, configPath, userID, token, peerID, rideID string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if token == "" {
		if token, err = auth.NewJWTService(cfg.Relay.JWTSecret, cfg.Relay.TokenTTL).Generate(userID); err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer, ok := kv.(io.Closer); ok {
		defer closer.Close()
	}

	publisher := observability.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()

	s, err := session.New(cfg.Session, models.CurrentUser{UserID: userID, AuthToken: token},
		transport.NewWebSocket(nil, logger), kv,
		session.WithLogger(logger),
		session.WithPublisher(publisher),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	thread, err := s.CreateThread(ctx, peerID, rideID, "")
	if err != nil {
		return err
	}
	updates, cancel := s.Subscribe(64)
	defer cancel()
	go printUpdates(out, userID, updates)

	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.JoinThread(ctx, thread.ID); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, s, thread.ID, strings.TrimSpace(line))
			if err != nil {
				logger.Warn("command failed", zap.Error(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, s *session.Session, threadID, line string) (bool, error) {
	switch line {
	case "":
		return false, nil
	case "/quit":
		return true, nil
	case "/read":
		return false, s.MarkAsRead(ctx, threadID, nil)
	case "/typing":
		return false, s.SetTyping(ctx, threadID, true)
	case "/retry":
		var errs []error
		for _, m := range s.Messages(threadID) {
			if m.Status == models.StatusFailed && m.SenderID == s.UserID() {
				if _, err := s.RetryMessage(ctx, m.ID); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return false, errors.Join(errs...)
	}
	_, err := s.SendMessage(ctx, models.Draft{ThreadID: threadID, Content: line})
	return false, err
}

func printUpdates(out io.Writer, userID string, updates <-chan session.Update) {
	for u := range updates {
		switch u.Kind {
		case session.UpdateConnection:
			fmt.Fprintf(out, "* connection %s\n", u.State)
		case session.UpdateMessage:
			m := u.Message
			if m.SenderID == userID {
				fmt.Fprintf(out, "  [%s] you: %s\n", m.Status, m.Content)
			} else if m.Status == models.StatusSent {
				fmt.Fprintf(out, "%s: %s\n", m.SenderID, m.Content)
			}
		case session.UpdatePresence:
			p := u.Presence
			if p.IsTyping {
				fmt.Fprintf(out, "* %s is typing\n", p.UserID)
			} else {
				fmt.Fprintf(out, "* %s is %s\n", p.UserID, strings.ToLower(string(p.Status)))
			}
		}
	}
}
