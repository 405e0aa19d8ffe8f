package rpc

import (
	"time"

	"github.com/gotd/td/tg"
)

// handleNewMessage converts a raw tg.MessageClass delivered by the update
// dispatcher into the RPC-layer Message and invokes the registered
// OnNewMessage callback (spec.md §4.E's live delivery path), grounded on
// the teacher's onUpdateNewMessage dispatch registration in client.go.
func (c *gotdClient) handleNewMessage(raw tg.MessageClass) error {
	msg, ok := raw.(*tg.Message)
	if !ok || c.onNewMessage == nil {
		return nil
	}
	dialogID := peerUpstreamID(msg.PeerID)
	c.onNewMessage(dialogID, convertMessage(msg))
	return nil
}

func (c *gotdClient) handleEditMessage(raw tg.MessageClass) error {
	msg, ok := raw.(*tg.Message)
	if !ok || c.onMessageEdit == nil {
		return nil
	}
	dialogID := peerUpstreamID(msg.PeerID)
	c.onMessageEdit(dialogID, convertMessage(msg))
	return nil
}

func (c *gotdClient) handleDeleteMessages(channelID int64, ids []int) {
	if c.onMessageDelete == nil {
		return
	}
	for _, id := range ids {
		c.onMessageDelete(channelID, id)
	}
}

func (c *gotdClient) handleChatParticipant(u *tg.UpdateChatParticipant) error {
	if c.onParticipantUpdate == nil {
		return nil
	}
	if newP, ok := u.NewParticipant.Get(); ok {
		c.onParticipantUpdate(u.ChatID, chatParticipantToRPC(newP), false)
	} else {
		c.onParticipantUpdate(u.ChatID, Participant{UserID: u.UserID}, true)
	}
	return nil
}

func (c *gotdClient) handleChannelParticipant(u *tg.UpdateChannelParticipant) error {
	if c.onParticipantUpdate == nil {
		return nil
	}
	if newP, ok := u.NewParticipant.Get(); ok {
		c.onParticipantUpdate(u.ChannelID, channelParticipantToRPC(newP), false)
	} else {
		c.onParticipantUpdate(u.ChannelID, Participant{UserID: u.UserID}, true)
	}
	return nil
}

func (c *gotdClient) OnNewMessage(fn func(int64, Message))                   { c.onNewMessage = fn }
func (c *gotdClient) OnMessageEdit(fn func(int64, Message))                  { c.onMessageEdit = fn }
func (c *gotdClient) OnMessageDelete(fn func(int64, int))                    { c.onMessageDelete = fn }
func (c *gotdClient) OnParticipantUpdate(fn func(int64, Participant, bool))  { c.onParticipantUpdate = fn }

func peerUpstreamID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return v.ChatID
	case *tg.PeerChannel:
		return v.ChannelID
	default:
		return 0
	}
}

func convertMessage(msg *tg.Message) Message {
	out := Message{
		ID:           msg.ID,
		Date:         time.Unix(int64(msg.Date), 0),
		Text:         msg.Message,
		ViewCount:    msg.Views,
		ForwardCount: msg.Forwards,
	}
	if fromID, ok := msg.GetFromID(); ok {
		out.SenderID = peerUpstreamID(fromID)
	}
	if replyTo, ok := msg.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			out.ReplyTo = header.ReplyToMsgID
		}
	}
	if groupedID, ok := msg.GetGroupedID(); ok {
		out.GroupedID = groupedID
	}
	if reactions, ok := msg.GetReactions(); ok {
		out.Reactions = make(map[string]int, len(reactions.Results))
		for _, r := range reactions.Results {
			if emoji, ok := r.Reaction.(*tg.ReactionEmoji); ok {
				out.Reactions[emoji.Emoticon] = r.Count
			}
		}
	}
	if media, ok := msg.GetMedia(); ok {
		out.Media = convertMediaRef(media)
	}
	return out
}

func convertMediaRef(media tg.MessageMediaClass) *MediaRef {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return &MediaRef{Type: "photo", MIME: "image/jpeg"}
	case *tg.MessageMediaDocument:
		ref := &MediaRef{Type: "document"}
		if doc, ok := m.Document.(*tg.Document); ok {
			ref.MIME = doc.MimeType
			ref.Size = doc.Size
			for _, attr := range doc.Attributes {
				switch a := attr.(type) {
				case *tg.DocumentAttributeVideo:
					ref.Type = "video"
					ref.Width = a.W
					ref.Height = a.H
					ref.Duration = a.Duration
				case *tg.DocumentAttributeAnimated:
					ref.Type = "gif"
				case *tg.DocumentAttributeSticker:
					ref.Type = "sticker"
				case *tg.DocumentAttributeAudio:
					ref.Duration = float64(a.Duration)
					if a.Voice {
						ref.Type = "voice"
					} else {
						ref.Type = "audio"
					}
				case *tg.DocumentAttributeImageSize:
					ref.Width = a.W
					ref.Height = a.H
				}
			}
		}
		return ref
	default:
		return nil
	}
}

func chatParticipantToRPC(p tg.ChatParticipantClass) Participant {
	switch v := p.(type) {
	case *tg.ChatParticipantCreator:
		return Participant{UserID: v.UserID, IsAdmin: true, AdminTitle: "Creator"}
	case *tg.ChatParticipantAdmin:
		return Participant{UserID: v.UserID, IsAdmin: true, JoinedAt: time.Unix(int64(v.Date), 0)}
	case *tg.ChatParticipant:
		return Participant{UserID: v.UserID, JoinedAt: time.Unix(int64(v.Date), 0)}
	default:
		return Participant{}
	}
}

func channelParticipantToRPC(p tg.ChannelParticipantClass) Participant {
	switch v := p.(type) {
	case *tg.ChannelParticipantCreator:
		return Participant{UserID: v.UserID, IsAdmin: true, AdminTitle: v.Rank}
	case *tg.ChannelParticipantAdmin:
		return Participant{UserID: v.UserID, IsAdmin: true, AdminTitle: v.Rank, JoinedAt: time.Unix(int64(v.Date), 0)}
	case *tg.ChannelParticipant:
		return Participant{UserID: v.UserID, JoinedAt: time.Unix(int64(v.Date), 0)}
	case *tg.ChannelParticipantSelf:
		return Participant{UserID: v.UserID, JoinedAt: time.Unix(int64(v.Date), 0)}
	default:
		return Participant{}
	}
}
