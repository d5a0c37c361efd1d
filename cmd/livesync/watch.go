package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/app"
	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/conversation"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/presence"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/spf13/cobra"
)

var watchPeer string

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchPeer, "peer", "", "open the conversation with this peer; lines on stdin are sent to it")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and print live updates until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, stop, err := startClient(ctx, true)
		if err != nil {
			return err
		}
		defer stop()

		events, unsubscribe := c.Bus.Subscribe("", 64)
		defer unsubscribe()

		if err := c.Feed.Load(ctx, api.NotificationQuery{Limit: c.Config.Feed.PageSize}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		if watchPeer != "" {
			if err := c.Conversations.LoadHistory(ctx, watchPeer); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			go readInput(ctx, c, watchPeer)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case evt, ok := <-events:
				if !ok {
					return nil
				}
				printEvent(c, evt)
			}
		}
	},
}

// readInput sends each stdin line to peer.
func readInput(ctx context.Context, c *app.Client, peer string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.Presence.InputChanged(peer)
		c.Presence.StopTyping(peer)
		if _, err := c.Conversations.SendMessage(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func printEvent(c *app.Client, evt bus.Event) {
	if jsonOutput {
		outputJSON(evt)
		return
	}
	ts := evt.Timestamp.Local().Format("15:04:05")
	switch p := evt.Payload.(type) {
	case status.Change:
		fmt.Printf("%s  push channel %s\n", ts, p.To)
	case conversation.Switch:
		fmt.Printf("%s  conversation %s\n", ts, p.To)
	case *model.SendError:
		fmt.Printf("%s  send failed: %v\n", ts, p)
	case presence.Change:
		switch {
		case p.Typing:
			fmt.Printf("%s  %s is typing\n", ts, p.PeerID)
		case p.Online:
			fmt.Printf("%s  %s online\n", ts, p.PeerID)
		default:
			fmt.Printf("%s  %s offline\n", ts, p.PeerID)
		}
	case string:
		if evt.Kind == bus.KindConversationUpdated {
			msgs := c.Conversations.Messages(p)
			if len(msgs) > 0 {
				printMessage(c, msgs[len(msgs)-1])
			}
		}
	case int:
		fmt.Printf("%s  %d unread notification(s)\n", ts, p)
	}
}
