package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// DownloadMedia implements spec.md §4.B's `download_media(message_ref) →
// bytes+meta | error_kind`, grounded on the teacher's
// pkg/connector/media/download.go (DownloadPhoto/DownloadDocument):
// re-fetch the message to get a fresh file reference, pick the largest
// photo size or the raw document, and stream it through
// telegram/downloader.
func (c *gotdClient) DownloadMedia(ctx context.Context, ref MessageRef) (DownloadedMedia, error) {
	peer, err := c.inputPeer(ctx, ref.DialogUpstreamID)
	if err != nil {
		return DownloadedMedia{}, err
	}

	msgs, err := fetchMessagesByID(ctx, c.client.API(), peer, []int{ref.MessageID})
	if err != nil {
		return DownloadedMedia{}, classifyRPCErr(err)
	}
	if len(msgs) == 0 {
		return DownloadedMedia{}, &notFoundMediaError{Ref: ref}
	}
	media, ok := msgs[0].GetMedia()
	if !ok {
		return DownloadedMedia{}, &notFoundMediaError{Ref: ref}
	}

	var buf bytes.Buffer
	dl := downloader.NewDownloader()
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return DownloadedMedia{}, &notFoundMediaError{Ref: ref}
		}
		largest := largestPhotoSize(photo.Sizes)
		loc := &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     largest,
		}
		if _, err := dl.Download(c.client.API(), loc).Stream(ctx, &buf); err != nil {
			return DownloadedMedia{}, classifyRPCErr(err)
		}
		return DownloadedMedia{Data: io.NopCloser(&buf), MIME: "image/jpeg", Size: int64(buf.Len())}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return DownloadedMedia{}, &notFoundMediaError{Ref: ref}
		}
		loc := &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
		if _, err := dl.Download(c.client.API(), loc).Stream(ctx, &buf); err != nil {
			return DownloadedMedia{}, classifyRPCErr(err)
		}
		out := DownloadedMedia{Data: io.NopCloser(&buf), MIME: doc.MimeType, Size: int64(buf.Len())}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				out.Width, out.Height, out.Duration = a.W, a.H, a.Duration
			case *tg.DocumentAttributeImageSize:
				out.Width, out.Height = a.W, a.H
			case *tg.DocumentAttributeAudio:
				out.Duration = float64(a.Duration)
			}
		}
		return out, nil
	default:
		return DownloadedMedia{}, &notFoundMediaError{Ref: ref}
	}
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	var best string
	var bestArea int
	for _, s := range sizes {
		var area int
		switch sz := s.(type) {
		case *tg.PhotoSize:
			area = sz.W * sz.H
		case *tg.PhotoSizeProgressive:
			area = sz.W * sz.H
		case *tg.PhotoCachedSize:
			area = sz.W * sz.H
		default:
			continue
		}
		if area > bestArea {
			bestArea = area
			best = s.GetType()
		}
	}
	return best
}

func fetchMessagesByID(ctx context.Context, api *tg.Client, peer tg.InputPeerClass, ids []int) ([]*tg.Message, error) {
	inputIDs := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		inputIDs[i] = &tg.InputMessageID{ID: id}
	}

	var result tg.MessagesMessagesClass
	var err error
	if channelPeer, ok := peer.(*tg.InputPeerChannel); ok {
		result, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: channelPeer.ChannelID, AccessHash: channelPeer.AccessHash},
			ID:      inputIDs,
		})
	} else {
		result, err = api.MessagesGetMessages(ctx, inputIDs)
	}
	if err != nil {
		return nil, err
	}
	modified, ok := result.(tg.ModifiedMessagesMessages)
	if !ok {
		return nil, fmt.Errorf("unexpected messages response type %T", result)
	}
	out := make([]*tg.Message, 0, len(modified.GetMessages()))
	for _, m := range modified.GetMessages() {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

type notFoundMediaError struct{ Ref MessageRef }

func (e *notFoundMediaError) Error() string {
	return fmt.Sprintf("no downloadable media on message %d in dialog %d", e.Ref.MessageID, e.Ref.DialogUpstreamID)
}
