package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect and report the push channel and unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, stop, err := startClient(ctx, false)
		if err != nil {
			return err
		}
		defer stop()

		connErr := awaitConnected(ctx, c)
		unread, err := c.Conversations.UnreadCount(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"user":           c.Config.Server.UserID,
				"state":          c.Session.State(),
				"unreadMessages": unread,
			})
			return nil
		}
		fmt.Printf("User:            %s\n", c.Config.Server.UserID)
		fmt.Printf("Push channel:    %s\n", c.Session.State())
		if connErr != nil {
			fmt.Printf("                 %v\n", connErr)
		}
		fmt.Printf("Unread messages: %d\n", unread)
		return nil
	},
}
