package rpc

import (
	"context"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// ResolveInvite implements spec.md §4.K's `resolve(invite)`: a
// non-joining preview via messages.checkChatInvite. A chat the account
// already belongs to resolves to ChatInviteAlready; one requiring admin
// approval resolves to the same preview with RequestNeeded set on
// ChatInvite.
func (c *gotdClient) ResolveInvite(ctx context.Context, hash string) (InvitePreview, error) {
	result, err := c.client.API().MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		if rpcErr, ok := tgerr.As(err); ok && rpcErr.Type == "INVITE_HASH_EXPIRED" {
			return InvitePreview{}, nil
		}
		return InvitePreview{}, classifyRPCErr(err)
	}

	switch v := result.(type) {
	case *tg.ChatInviteAlready:
		preview := chatToPreview(v.Chat)
		preview.AlreadyJoined = true
		return preview, nil
	case *tg.ChatInvitePeek:
		preview := chatToPreview(v.Chat)
		return preview, nil
	case *tg.ChatInvite:
		return InvitePreview{
			Title:       v.Title,
			About:       v.About,
			MemberCount: v.ParticipantsCount,
			IsChannel:   v.Channel,
		}, nil
	default:
		return InvitePreview{Private: true}, nil
	}
}

func chatToPreview(chat tg.ChatClass) InvitePreview {
	switch v := chat.(type) {
	case *tg.Chat:
		return InvitePreview{Title: v.Title, MemberCount: v.ParticipantsCount}
	case *tg.Channel:
		return InvitePreview{Title: v.Title, MemberCount: v.ParticipantsCount, IsChannel: true}
	default:
		return InvitePreview{}
	}
}

// JoinInvite implements spec.md §4.K's `join(hash)` via
// messages.importChatInvite. A request-to-join-pending channel surfaces
// as JoinResult.RequestPending so the AutoJoiner can record
// InviteStatusRequestPending instead of InviteStatusJoined.
func (c *gotdClient) JoinInvite(ctx context.Context, hash string) (JoinResult, error) {
	updates, err := c.client.API().MessagesImportChatInvite(ctx, hash)
	if err != nil {
		if rpcErr, ok := tgerr.As(err); ok && rpcErr.Type == "INVITE_REQUEST_SENT" {
			return JoinResult{RequestPending: true}, nil
		}
		return JoinResult{}, classifyRPCErr(err)
	}

	for _, chat := range extractChats(updates) {
		switch v := chat.(type) {
		case *tg.Chat:
			return JoinResult{DialogUpstreamID: v.ID}, nil
		case *tg.Channel:
			c.peers.rememberChannel(v.ID, v.AccessHash)
			return JoinResult{DialogUpstreamID: v.ID}, nil
		}
	}
	return JoinResult{}, nil
}

func extractChats(u tg.UpdatesClass) []tg.ChatClass {
	switch v := u.(type) {
	case *tg.Updates:
		return v.Chats
	case *tg.UpdatesCombined:
		return v.Chats
	default:
		return nil
	}
}
