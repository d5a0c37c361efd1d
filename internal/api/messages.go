package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/wire"
)

// History fetches one page of the conversation with peerID, oldest first.
// before is the server id of the oldest message already held, or empty for
// the newest page.
func (c *Client) History(ctx context.Context, peerID string, limit int, before string) ([]model.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}

	var recs []wire.MessageRecord
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(peerID)+"/messages", q, nil, &recs); err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, r.ToModel())
	}
	return msgs, nil
}

// Send posts a message and returns the confirmed copy. The local id is
// carried over when the backend does not echo it.
func (c *Client) Send(ctx context.Context, req wire.SendRequest) (model.Message, error) {
	var rec wire.MessageRecord
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &rec); err != nil {
		return model.Message{}, err
	}
	if rec.LocalID == "" {
		rec.LocalID = req.LocalID
	}
	if rec.RecipientID == "" {
		rec.RecipientID = req.RecipientID
	}
	if rec.Content == "" {
		rec.Content = req.Content
	}
	return rec.ToModel(), nil
}

// MarkMessagesRead acknowledges a batch of messages as read.
func (c *Client) MarkMessagesRead(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/messages/read", nil, wire.IDsRequest{IDs: ids}, nil)
}

// UnreadCount returns the backend's unread message count for the identity.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp wire.CountResponse
	if err := c.do(ctx, http.MethodGet, "/messages/unread-count", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}
