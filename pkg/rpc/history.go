package rpc

import (
	"context"

	"github.com/gotd/td/tg"
)

// IterHistory implements spec.md §4.B's `iter_history(dialog, from_id,
// page_size)`: one page of messages.getHistory walking backward from
// fromID (0 means start at the newest message), grounded on the
// OffsetID-cursor pagination in the teacher's FetchMessages
// (pkg/connector/backfill.go).
func (c *gotdClient) IterHistory(ctx context.Context, dialogUpstreamID int64, fromID, pageSize int) (HistoryPage, error) {
	peer, err := c.inputPeer(ctx, dialogUpstreamID)
	if err != nil {
		return HistoryPage{}, err
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	result, err := c.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: fromID,
		Limit:    pageSize,
	})
	if err != nil {
		return HistoryPage{}, classifyRPCErr(err)
	}
	modified, ok := result.(tg.ModifiedMessagesMessages)
	if !ok {
		return HistoryPage{}, nil
	}

	raw := modified.GetMessages()
	page := HistoryPage{Messages: make([]Message, 0, len(raw))}
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			page.Messages = append(page.Messages, convertMessage(msg))
		}
	}
	if len(page.Messages) > 0 {
		page.NextFromID = page.Messages[len(page.Messages)-1].ID
	}
	return page, nil
}
