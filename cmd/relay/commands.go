package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/beamline/relay/internal/control"
)

func decode(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}

func newClient() (*control.Client, error) {
	client, err := control.Dial(cfg.Daemon.Socket)
	if err != nil {
		return nil, fmt.Errorf("%w\n\nIs relayd running? Start it with: relayd", err)
	}

	if token := tokenValue(); token != "" {
		client.SetToken(token)
	}
	client.SetOwner(ownerName())
	return client, nil
}

func ownerName() string {
	if flagOwner != "" {
		return flagOwner
	}
	if env := os.Getenv("RELAY_OWNER"); env != "" {
		return env
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func tokenValue() string {
	if flagToken != "" {
		return flagToken
	}
	return os.Getenv("RELAY_TOKEN")
}

func runChat(args []string) error {
	prompt := ""
	for i, arg := range args {
		if i > 0 {
			prompt += " "
		}
		prompt += arg
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = client.SendChat(ctx, prompt)
	cancel()
	if err != nil {
		return err
	}

	streamed := false
	for event := range client.Events() {
		switch event.Type {
		case control.EventChatChunk:
			var chunk control.ChatChunk
			if err := decode(event.Payload, &chunk); err != nil {
				continue
			}
			fmt.Print(chunk.Text)
			streamed = true

		case control.EventChatComplete:
			var complete control.ChatComplete
			if err := decode(event.Payload, &complete); err != nil {
				return err
			}
			// Deltas already printed match the final text in the common
			// case; only print it when nothing streamed.
			if !streamed {
				fmt.Print(complete.Text)
			}
			fmt.Println()
			return nil

		case control.EventChatError:
			var chatErr control.ChatError
			if err := decode(event.Payload, &chatErr); err != nil {
				return err
			}
			if streamed {
				fmt.Println()
			}
			return errors.New(chatErr.Message)

		case control.EventStopping:
			return errors.New("daemon is shutting down")
		}
	}

	return errors.New("connection closed before the response finished")
}

func runNew() error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.NewConversation(ctx); err != nil {
		return err
	}
	fmt.Println("Started a new conversation. Your next prompt begins fresh.")
	return nil
}

func runSessions() error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := client.ListSessions(ctx)
	if err != nil {
		return err
	}

	if len(list.Sessions) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPREVIEW\tDATE")
	for _, s := range list.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			s.SessionID, s.Preview, s.Timestamp.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func runResume(sessionID string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Resume(ctx, sessionID); err != nil {
		return err
	}
	fmt.Printf("Resumed conversation %s.\n", sessionID)
	return nil
}

func runDelete(sessionID string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Delete(ctx, sessionID); err != nil {
		return err
	}
	fmt.Printf("Deleted conversation %s from your history.\n", sessionID)
	return nil
}

func runHistory(sessionID string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := client.History(ctx, sessionID)
	if err != nil {
		return err
	}

	if len(result.Messages) == 0 {
		fmt.Println("No messages found.")
		return nil
	}

	for _, m := range result.Messages {
		speaker := "Claude"
		if m.Role == "user" {
			speaker = "You"
		}
		fmt.Printf("%s: %s\n\n", speaker, m.Content)
	}
	return nil
}

func runStatus() error {
	client, err := newClient()
	if err != nil {
		fmt.Println("Daemon status: NOT RUNNING")
		fmt.Printf("Socket: %s\n", cfg.Daemon.Socket)
		return nil
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Daemon status: RUNNING")
	fmt.Printf("Socket: %s\n", cfg.Daemon.Socket)
	fmt.Printf("Version: %s\n", status.Version)
	fmt.Printf("Uptime: %s\n", status.Uptime)
	fmt.Printf("Active turns: %d\n", status.ActiveTurns)
	fmt.Printf("Connected clients: %d\n", status.ConnectedPeers)
	fmt.Printf("Auth: %v\n", status.AuthEnabled)
	return nil
}

func runToken(owner string, privileged bool, ttl time.Duration) error {
	if cfg.Daemon.AuthSecret == "" {
		return errors.New("no auth_secret configured; the daemon accepts unauthenticated owners")
	}

	token, err := control.SignOwnerToken([]byte(cfg.Daemon.AuthSecret),
		control.OwnerClaims{Owner: owner, Privileged: privileged}, ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
