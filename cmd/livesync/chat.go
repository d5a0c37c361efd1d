package main

import (
	"fmt"
	"strings"

	"github.com/matheus3301/livesync/internal/app"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/spf13/cobra"
)

var historyPages int

func init() {
	rootCmd.AddCommand(historyCmd, sendCmd, readCmd)
	historyCmd.Flags().IntVar(&historyPages, "pages", 1, "number of pages to load, newest first")
}

var historyCmd = &cobra.Command{
	Use:   "history <peer>",
	Short: "Print the conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, stop, err := startClient(ctx, false)
		if err != nil {
			return err
		}
		defer stop()

		if err := c.Conversations.LoadHistory(ctx, args[0]); err != nil {
			return err
		}
		for i := 1; i < historyPages; i++ {
			n, err := c.Conversations.LoadOlder(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}

		convID, _ := c.Conversations.Active()
		msgs := c.Conversations.Messages(convID)
		if jsonOutput {
			outputJSON(msgs)
			return nil
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			printMessage(c, m)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <peer> <text>...",
	Short: "Send a message to a peer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, stop, err := startClient(ctx, false)
		if err != nil {
			return err
		}
		defer stop()

		// A send made while disconnected only queues, and this process
		// exits right after.
		if err := awaitConnected(ctx, c); err != nil {
			return err
		}
		if err := c.Conversations.LoadHistory(ctx, args[0]); err != nil {
			return err
		}
		msg, err := c.Conversations.SendMessage(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		c.Conversations.Wait()

		if ps, ok := c.Conversations.PendingSend(msg.LocalID); ok {
			return fmt.Errorf("message not delivered (%s): %s", ps.DeliveryState, ps.LastError)
		}
		if jsonOutput {
			outputJSON(findMessage(c, msg))
			return nil
		}
		fmt.Printf("Sent to %s.\n", args[0])
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <peer>",
	Short: "Mark every message from a peer as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, stop, err := startClient(ctx, false)
		if err != nil {
			return err
		}
		defer stop()

		if err := awaitConnected(ctx, c); err != nil {
			return err
		}
		if err := c.Conversations.LoadHistory(ctx, args[0]); err != nil {
			return err
		}
		convID, _ := c.Conversations.Active()
		var ids []string
		for _, m := range c.Conversations.Messages(convID) {
			if m.SenderID == args[0] && m.ReadState == model.Unread && m.Confirmed() {
				ids = append(ids, m.ServerID)
			}
		}
		if len(ids) == 0 {
			fmt.Println("Nothing unread.")
			return nil
		}
		c.Conversations.MarkRead(ctx, ids)
		c.Conversations.Wait()
		fmt.Printf("Marked %d message(s) read.\n", len(ids))
		return nil
	},
}

func findMessage(c *app.Client, sent model.Message) model.Message {
	for _, m := range c.Conversations.Messages(sent.ConversationID) {
		if m.LocalID == sent.LocalID {
			return m
		}
	}
	return sent
}

func printMessage(c *app.Client, m model.Message) {
	marker := " "
	switch {
	case m.DeliveryState == model.DeliveryFailed:
		marker = "!"
	case m.DeliveryState == model.DeliveryPending:
		marker = "~"
	case m.ReadState == model.Unread && m.SenderID != c.Config.Server.UserID:
		marker = "*"
	}
	fmt.Printf("%s %s  %-12s %s\n", marker, m.CreatedAt.Local().Format("2006-01-02 15:04"), m.SenderID, m.Content)
}
