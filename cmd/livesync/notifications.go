package main

import (
	"fmt"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/spf13/cobra"
)

var (
	notifyType    string
	notifyLimit   int
	notifyMarkAll bool
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsDeleteCmd)

	f := notificationsCmd.Flags()
	f.StringVar(&notifyType, "type", "", "only show one type (tournament, match, friend, message, reward, system)")
	f.IntVar(&notifyLimit, "limit", 0, "page size (default from config)")
	f.BoolVar(&notifyMarkAll, "mark-read", false, "mark everything loaded as read")
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Show the notification feed grouped by day",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, stop, err := startClient(ctx, false)
		if err != nil {
			return err
		}
		defer stop()

		limit := notifyLimit
		if limit <= 0 {
			limit = c.Config.Feed.PageSize
		}
		if err := c.Feed.Load(ctx, api.NotificationQuery{Limit: limit, Type: model.NotificationType(notifyType)}); err != nil {
			return err
		}

		groups := c.Feed.Groups(model.NotificationType(notifyType))
		if jsonOutput {
			outputJSON(groups)
		} else {
			fmt.Printf("%d unread\n", c.Feed.UnreadCount())
			for _, g := range groups {
				fmt.Printf("\n%s\n", g.Day)
				for _, n := range g.Items {
					mark := " "
					if n.ReadState == model.Unread {
						mark = "*"
					}
					fmt.Printf("%s %s  %-10s %s\n", mark, n.CreatedAt.Local().Format("15:04"), n.Type, n.Title)
				}
			}
		}

		if notifyMarkAll {
			if err := awaitConnected(ctx, c); err != nil {
				return err
			}
			c.Feed.MarkAllRead(ctx)
			c.Feed.Wait()
		}
		return nil
	},
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, stop, err := startClient(ctx, false)
		if err != nil {
			return err
		}
		defer stop()

		if err := c.Feed.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s.\n", args[0])
		return nil
	},
}
