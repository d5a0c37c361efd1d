package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/wire"
)

// NotificationQuery selects a page of the notification list. A zero Type
// means all types.
type NotificationQuery struct {
	Limit  int
	Offset int
	Type   model.NotificationType
}

// Notifications fetches one page of the notification list.
func (c *Client) Notifications(ctx context.Context, q NotificationQuery) ([]model.NotificationItem, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Type != "" {
		v.Set("type", string(q.Type))
	}

	var recs []wire.NotificationRecord
	if err := c.do(ctx, http.MethodGet, "/notifications", v, nil, &recs); err != nil {
		return nil, err
	}
	items := make([]model.NotificationItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, r.ToModel())
	}
	return items, nil
}

// MarkNotificationsRead acknowledges a batch of notifications as read.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/notifications/read", nil, wire.IDsRequest{IDs: ids}, nil)
}

// DeleteNotification removes a notification on the backend.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil, nil)
}
