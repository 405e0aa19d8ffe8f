package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/tg"
)

// peerCache remembers the access hash needed to address a user/channel by
// ID, the minimum a gotd-backed client needs since TL input peers are not
// addressable by bare ID alone. The teacher persists this in its
// ScopedStore (AccessHasher); this engine keeps it in-process per
// session and lets pkg/store's Dialog/User rows be the durable record —
// a cold-started session re-resolves peers via GetEntity/ListDialogs
// before it can address them again, which is acceptable since sessions
// always re-list dialogs on connect (spec.md §4.D rediscovery sweep).
type peerCache struct {
	mu       sync.RWMutex
	users    map[int64]int64 // userID -> accessHash
	channels map[int64]int64 // channelID -> accessHash
}

func newPeerCache() *peerCache {
	return &peerCache{users: map[int64]int64{}, channels: map[int64]int64{}}
}

func (c *peerCache) rememberUser(id, accessHash int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[id] = accessHash
}

func (c *peerCache) rememberChannel(id, accessHash int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = accessHash
}

func (c *peerCache) inputUser(id int64) (*tg.InputUser, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, ok := c.users[id]
	if !ok {
		return nil, false
	}
	return &tg.InputUser{UserID: id, AccessHash: hash}, true
}

func (c *peerCache) inputChannel(id int64) (*tg.InputChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, ok := c.channels[id]
	if !ok {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: id, AccessHash: hash}, true
}

func (c *gotdClient) inputPeer(ctx context.Context, dialogUpstreamID int64) (tg.InputPeerClass, error) {
	if iu, ok := c.peers.inputUser(dialogUpstreamID); ok {
		return &tg.InputPeerUser{UserID: iu.UserID, AccessHash: iu.AccessHash}, nil
	}
	if ic, ok := c.peers.inputChannel(dialogUpstreamID); ok {
		return &tg.InputPeerChannel{ChannelID: ic.ChannelID, AccessHash: ic.AccessHash}, nil
	}
	return nil, &entityNotResolvedError{ID: dialogUpstreamID}
}

type entityNotResolvedError struct{ ID int64 }

func (e *entityNotResolvedError) Error() string {
	return fmt.Sprintf("entity %d has not been resolved via ListDialogs/GetEntity yet", e.ID)
}

// ListDialogs implements spec.md §4.B's `list_dialogs()`, a paged sweep
// over messages.getDialogs (100 per page, until a short or empty page or
// an offset peer it cannot resolve) — enough to populate the peer cache and
// surface every dialog to pkg/registry's rediscovery sweep (§4.D).
func (c *gotdClient) ListDialogs(ctx context.Context) ([]Entity, error) {
	var out []Entity
	offsetPeer := tg.InputPeerClass(&tg.InputPeerEmpty{})
	var offsetID, offsetDate int

	for {
		result, err := c.client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      100,
		})
		if err != nil {
			return nil, classifyRPCErr(err)
		}
		modified, ok := result.(tg.ModifiedMessagesDialogs)
		if !ok {
			return out, nil
		}
		c.cacheEntities(modified.GetUsers(), modified.GetChats())

		for _, chat := range modified.GetChats() {
			out = append(out, chatToEntity(chat))
		}
		for _, user := range modified.GetUsers() {
			if u, ok := user.(*tg.User); ok {
				out = append(out, userToEntity(u))
			}
		}

		dialogs := modified.GetDialogs()
		if len(dialogs) == 0 {
			return out, nil
		}
		msgs := modified.GetMessages()
		if len(msgs) == 0 {
			return out, nil
		}
		last := msgs[len(msgs)-1]
		if m, ok := last.(*tg.Message); ok {
			offsetID = m.ID
			offsetDate = m.Date
		}
		offsetPeer, err = c.inputPeer(ctx, peerUpstreamID(dialogs[len(dialogs)-1].GetPeer()))
		if err != nil {
			return out, nil
		}
		if len(dialogs) < 100 {
			return out, nil
		}
	}
}

func (c *gotdClient) cacheEntities(users []tg.UserClass, chats []tg.ChatClass) {
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			if hash, ok := user.GetAccessHash(); ok {
				c.peers.rememberUser(user.ID, hash)
			}
		}
	}
	for _, ch := range chats {
		if channel, ok := ch.(*tg.Channel); ok {
			if hash, ok := channel.GetAccessHash(); ok {
				c.peers.rememberChannel(channel.ID, hash)
			}
		}
	}
}

func chatToEntity(c tg.ChatClass) Entity {
	switch v := c.(type) {
	case *tg.Chat:
		return Entity{UpstreamID: v.ID, IsGroup: true, Title: v.Title, MemberCount: v.ParticipantsCount}
	case *tg.Channel:
		return Entity{
			UpstreamID:  v.ID,
			IsChannel:   true,
			IsGroup:     v.Megagroup,
			Title:       v.Title,
			Username:    v.Username,
			MemberCount: v.ParticipantsCount,
			Verified:    v.Verified,
			Scam:        v.Scam,
			Fake:        v.Fake,
			Restricted:  v.Restricted,
		}
	default:
		return Entity{}
	}
}

func userToEntity(u *tg.User) Entity {
	e := Entity{
		UpstreamID: u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Bot:        u.Bot,
		Verified:   u.Verified,
		Premium:    u.Premium,
		Scam:       u.Scam,
		Fake:       u.Fake,
		Restricted: u.Restricted,
		Deleted:    u.Deleted,
	}
	if phone, ok := u.GetPhone(); ok {
		e.Phone = phone
	}
	return e
}

// GetEntity implements spec.md §4.B's `get_entity(upstream_id)`. It only
// resolves entities whose access hash is already cached — callers should
// have observed the entity through ListDialogs, a message sender, or a
// membership scrape first, matching gotd/td's general "entities must be
// seen before they can be addressed" constraint.
func (c *gotdClient) GetEntity(ctx context.Context, upstreamID int64) (Entity, error) {
	if iu, ok := c.peers.inputUser(upstreamID); ok {
		users, err := c.client.API().UsersGetUsers(ctx, []tg.InputUserClass{iu})
		if err != nil {
			return Entity{}, classifyRPCErr(err)
		}
		for _, u := range users {
			if user, ok := u.(*tg.User); ok {
				return userToEntity(user), nil
			}
		}
	}
	if ic, ok := c.peers.inputChannel(upstreamID); ok {
		chats, err := c.client.API().ChannelsGetChannels(ctx, []tg.InputChannelClass{ic})
		if err != nil {
			return Entity{}, classifyRPCErr(err)
		}
		if full, ok := chats.(*tg.MessagesChats); ok {
			for _, ch := range full.Chats {
				return chatToEntity(ch), nil
			}
		}
	}
	return Entity{}, &entityNotResolvedError{ID: upstreamID}
}

// IterParticipants implements spec.md §4.B/§4.H's `iter_participants`,
// paginated over channels.getParticipants for channels/supergroups, or a
// single page from messages.getFullChat for basic groups.
func (c *gotdClient) IterParticipants(ctx context.Context, dialogUpstreamID int64, offset, limit int) ([]Participant, error) {
	if ic, ok := c.peers.inputChannel(dialogUpstreamID); ok {
		result, err := c.client.API().ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: ic,
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   limit,
		})
		if err != nil {
			return nil, classifyRPCErr(err)
		}
		participants, ok := result.(*tg.ChannelsChannelParticipants)
		if !ok {
			return nil, nil
		}
		c.cacheEntities(participants.Users, nil)
		out := make([]Participant, 0, len(participants.Participants))
		for _, p := range participants.Participants {
			out = append(out, channelParticipantToRPC(p))
		}
		return out, nil
	}

	full, err := c.client.API().MessagesGetFullChat(ctx, dialogUpstreamID)
	if err != nil {
		return nil, classifyRPCErr(err)
	}
	chatFull, ok := full.FullChat.(*tg.ChatFull)
	if !ok {
		return nil, nil
	}
	participants, ok := chatFull.Participants.(*tg.ChatParticipants)
	if !ok {
		return nil, nil
	}
	out := make([]Participant, 0, len(participants.Participants))
	for _, p := range participants.Participants {
		out = append(out, chatParticipantToRPC(p))
	}
	return out, nil
}

// IterProfilePhotos implements `iter_profile_photos(user)` via
// photos.getUserPhotos.
func (c *gotdClient) IterProfilePhotos(ctx context.Context, userUpstreamID int64, offset, limit int) ([]ProfilePhoto, error) {
	iu, ok := c.peers.inputUser(userUpstreamID)
	if !ok {
		return nil, &entityNotResolvedError{ID: userUpstreamID}
	}
	result, err := c.client.API().PhotosGetUserPhotos(ctx, &tg.PhotosGetUserPhotosRequest{
		UserID: iu,
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, classifyRPCErr(err)
	}
	var photos []tg.PhotoClass
	switch r := result.(type) {
	case *tg.PhotosPhotos:
		photos = r.Photos
	case *tg.PhotosPhotosSlice:
		photos = r.Photos
	}
	out := make([]ProfilePhoto, 0, len(photos))
	for _, p := range photos {
		photo, ok := p.(*tg.Photo)
		if !ok {
			continue
		}
		out = append(out, ProfilePhoto{
			UpstreamID: photo.ID,
			IsVideo:    len(photo.VideoSizes) > 0,
			CapturedAt: time.Unix(int64(photo.Date), 0),
		})
	}
	return out, nil
}

// IterStories implements `iter_stories(user)` via stories.getPinnedStories
// for the currently pinned/highlighted set — active (non-expired) stories
// come from the same dialog's pinned stories list in the TL schema.
func (c *gotdClient) IterStories(ctx context.Context, userUpstreamID int64) ([]Story, error) {
	iu, ok := c.peers.inputUser(userUpstreamID)
	if !ok {
		return nil, &entityNotResolvedError{ID: userUpstreamID}
	}
	result, err := c.client.API().StoriesGetPinnedStories(ctx, &tg.StoriesGetPinnedStoriesRequest{UserID: iu})
	if err != nil {
		return nil, classifyRPCErr(err)
	}
	out := make([]Story, 0, len(result.Stories))
	for _, s := range result.Stories {
		item, ok := s.(*tg.StoryItem)
		if !ok {
			continue
		}
		story := Story{UpstreamID: int64(item.ID), IsPinned: item.Pinned}
		if item.Views != nil {
			story.ViewCount = item.Views.ViewsCount
		}
		if expires, ok := item.GetExpireDate(); ok {
			story.ExpiresAt = time.Unix(int64(expires), 0)
		}
		out = append(out, story)
	}
	return out, nil
}
