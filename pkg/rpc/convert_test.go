package rpc

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/retry"
)

func TestPeerUpstreamID(t *testing.T) {
	assert.Equal(t, int64(42), peerUpstreamID(&tg.PeerUser{UserID: 42}))
	assert.Equal(t, int64(7), peerUpstreamID(&tg.PeerChat{ChatID: 7}))
	assert.Equal(t, int64(9), peerUpstreamID(&tg.PeerChannel{ChannelID: 9}))
	assert.Equal(t, int64(0), peerUpstreamID(nil))
}

func TestConvertMessageBasics(t *testing.T) {
	msg := &tg.Message{
		ID:      5,
		Message: "hello",
		Views:   10,
	}
	msg.SetFromID(&tg.PeerUser{UserID: 99})

	out := convertMessage(msg)
	assert.Equal(t, 5, out.ID)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, int64(99), out.SenderID)
	assert.Equal(t, 10, out.ViewCount)
	assert.Nil(t, out.Media)
}

func TestConvertMediaRefVideo(t *testing.T) {
	doc := &tg.Document{
		MimeType: "video/mp4",
		Size:     1024,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeVideo{W: 1920, H: 1080, Duration: 12.5},
		},
	}
	ref := convertMediaRef(&tg.MessageMediaDocument{Document: doc})
	assert.Equal(t, "video", ref.Type)
	assert.Equal(t, "video/mp4", ref.MIME)
	assert.Equal(t, 1920, ref.Width)
	assert.Equal(t, 1080, ref.Height)
	assert.InDelta(t, 12.5, ref.Duration, 0.01)
}

func TestConvertMediaRefVoice(t *testing.T) {
	doc := &tg.Document{
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAudio{Duration: 3, Voice: true},
		},
	}
	ref := convertMediaRef(&tg.MessageMediaDocument{Document: doc})
	assert.Equal(t, "voice", ref.Type)
}

func TestConvertMediaRefPhoto(t *testing.T) {
	ref := convertMediaRef(&tg.MessageMediaPhoto{})
	assert.Equal(t, "photo", ref.Type)
	assert.Equal(t, "image/jpeg", ref.MIME)
}

func TestChatParticipantToRPC(t *testing.T) {
	p := chatParticipantToRPC(&tg.ChatParticipantCreator{UserID: 1})
	assert.True(t, p.IsAdmin)
	assert.Equal(t, "Creator", p.AdminTitle)

	p = chatParticipantToRPC(&tg.ChatParticipant{UserID: 2, Date: 1000})
	assert.False(t, p.IsAdmin)
	assert.Equal(t, int64(2), p.UserID)
}

func TestChannelParticipantToRPC(t *testing.T) {
	p := channelParticipantToRPC(&tg.ChannelParticipantAdmin{UserID: 3, Rank: "mod"})
	assert.True(t, p.IsAdmin)
	assert.Equal(t, "mod", p.AdminTitle)
}

func TestLargestPhotoSize(t *testing.T) {
	sizes := []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "s", W: 100, H: 100},
		&tg.PhotoSize{Type: "x", W: 800, H: 600},
		&tg.PhotoCachedSize{Type: "c", W: 50, H: 50},
	}
	assert.Equal(t, "x", largestPhotoSize(sizes))
}

func TestClassifyRPCErrFloodWait(t *testing.T) {
	err := &tgerr.Error{Type: "FLOOD_WAIT", Argument: 30}
	classified := classifyRPCErr(err)
	var rateLimit *retry.RateLimitError
	assert.ErrorAs(t, classified, &rateLimit)
	assert.Equal(t, 30, rateLimit.Seconds)
}

func TestClassifyRPCErrBanned(t *testing.T) {
	err := &tgerr.Error{Type: "USER_DEACTIVATED_BAN", Code: 401}
	classified := classifyRPCErr(err)
	var banned *retry.SessionBannedError
	assert.ErrorAs(t, classified, &banned)
}

func TestClassifyRPCErrPermanentDefault(t *testing.T) {
	err := &tgerr.Error{Type: "CHANNEL_PRIVATE", Code: 400}
	classified := classifyRPCErr(err)
	var permanent *retry.PermanentError
	assert.ErrorAs(t, classified, &permanent)
}

func TestClassifyRPCErrServerError(t *testing.T) {
	err := &tgerr.Error{Type: "INTERNAL", Code: 500}
	classified := classifyRPCErr(err)
	var temp *retry.TemporaryError
	assert.ErrorAs(t, classified, &temp)
}
