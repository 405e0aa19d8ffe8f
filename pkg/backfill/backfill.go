// Package backfill implements the Backfill Coordinator (spec.md §4.F): a
// per-dialog resumable history-crawl loop, paged through the owning
// session's priority queue at PriorityBackfill and persisted one page at
// a time so a crash mid-crawl only loses the current, uncommitted page.
//
// Grounded on the teacher's pkg/connector/backfill.go FetchMessages,
// which pages tg.MessagesGetHistory backwards and advances its own
// cursor to the oldest message id returned each call — the same
// "cursor := lowest id in page" loop shape, generalized here from
// Matrix BackfillMessage conversion to the plain persist-and-advance
// loop spec.md §4.F describes.
package backfill

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/registry"
	"github.com/ingestlab/telecorpus/pkg/rpc"
	"github.com/ingestlab/telecorpus/pkg/session"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// Extractor runs every registered detector against a message's text.
// Declared locally for the same reason pkg/listener declares its own
// copy: pkg/extractor doesn't exist at the point this package is built,
// and neither package should depend on the other's internals.
type Extractor interface {
	Extract(ctx context.Context, messageID int64, text string) ([]model.Detection, error)
}

// Publisher fans backfill_progress out to Event Bus subscribers.
type Publisher interface {
	Publish(topic string, dialogID int64, payload any)
}

// MediaQueue hands a freshly queued MediaFile off to the Media Pipeline.
type MediaQueue interface {
	Enqueue(mediaFileID int64, priority int)
}

// TopicProgress is the Event Bus topic emitted after each committed
// page (spec.md §4.F step 3).
const TopicProgress = "backfill_progress"

// MediaPriorityBackfill is the download priority handed to the Media
// Pipeline for media discovered during backfill, ranked below
// listener.MediaPriorityLive per spec.md §4.G ("priority=backfill for
// historical, higher for recent").
const MediaPriorityBackfill = 0

// Progress is the payload published on TopicProgress.
type Progress struct {
	DialogID     int64
	MessageCount int
	Cursor       int64
	Done         bool
}

// Coordinator runs one backfill loop per dialog on demand, bounded by a
// per-account semaphore (spec.md §4.F: "bounded by a per-session
// concurrency cap (default 1)").
type Coordinator struct {
	sessions  *session.Manager
	registry  *registry.Registry
	store     *store.Store
	extractor Extractor
	bus       Publisher
	media     MediaQueue
	log       zerolog.Logger

	pageSize    int
	concurrency int64

	mu   sync.Mutex
	sems map[int64]*semaphore.Weighted // keyed by account id
}

func New(sessions *session.Manager, reg *registry.Registry, st *store.Store, extractor Extractor, bus Publisher, media MediaQueue, log zerolog.Logger, pageSize int, concurrencyPerAccount int) *Coordinator {
	if pageSize <= 0 {
		pageSize = 100
	}
	if concurrencyPerAccount <= 0 {
		concurrencyPerAccount = 1
	}
	return &Coordinator{
		sessions:    sessions,
		registry:    reg,
		store:       st,
		extractor:   extractor,
		bus:         bus,
		media:       media,
		log:         log.With().Str("component", "backfill").Logger(),
		pageSize:    pageSize,
		concurrency: int64(concurrencyPerAccount),
		sems:        make(map[int64]*semaphore.Weighted),
	}
}

func (c *Coordinator) semaphoreFor(accountID int64) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.sems[accountID]
	if !ok {
		sem = semaphore.NewWeighted(c.concurrency)
		c.sems[accountID] = sem
	}
	return sem
}

// Start launches a backfill loop for dialogID in its own goroutine. It
// does not claim the dialog itself: callers first call
// pkg/registry.Registry.StartBackfill and call Start only when it
// reports started=true, so at most one loop runs per dialog.
func (c *Coordinator) Start(ctx context.Context, dialogID int64) error {
	go c.run(ctx, dialogID)
	return nil
}

func (c *Coordinator) run(ctx context.Context, dialogID int64) {
	defer c.registry.FinishBackfill(dialogID)
	log := c.log.With().Int64("dialog_id", dialogID).Logger()

	row, err := c.store.Dialogs.GetByID(ctx, dialogID)
	if err != nil || row.AssignedAccount == nil {
		log.Err(err).Msg("loading dialog for backfill")
		return
	}
	sess, ok := c.sessions.Get(*row.AssignedAccount)
	if !ok {
		log.Error().Int64("account_id", *row.AssignedAccount).Msg("no running session for backfill account")
		_ = c.store.Dialogs.SetStatus(ctx, dialogID, model.DialogError, "owning account has no running session")
		return
	}

	sem := c.semaphoreFor(*row.AssignedAccount)
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer sem.Release(1)

	cursor := row.Cursors.BackfillFrontier
	dialogUpstreamID := row.UpstreamID

	for {
		if ctx.Err() != nil {
			return
		}

		current, err := c.store.Dialogs.GetByID(ctx, dialogID)
		if err != nil {
			log.Err(err).Msg("reloading dialog status")
			return
		}
		if current.Status != model.DialogBackfilling {
			// Paused, unassigned, or otherwise stopped by an operator
			// between pages; spec.md §4.F's stop_requested check.
			return
		}

		page, err := sess.IterHistory(ctx, session.PriorityBackfill, dialogUpstreamID, int(cursor), c.pageSize)
		if err != nil {
			log.Err(err).Msg("fetching history page, transitioning dialog to error")
			_ = c.store.Dialogs.SetStatus(ctx, dialogID, model.DialogError, err.Error())
			return
		}
		if len(page.Messages) == 0 {
			_ = c.store.Dialogs.SetStatus(ctx, dialogID, model.DialogActive, "")
			c.bus.Publish(TopicProgress, dialogID, Progress{DialogID: dialogID, Cursor: cursor, Done: true})
			return
		}

		mediaIDs, err := c.persistPage(ctx, row.ID, page.Messages)
		if err != nil {
			log.Err(err).Msg("persisting backfill page, transitioning dialog to error")
			_ = c.store.Dialogs.SetStatus(ctx, dialogID, model.DialogError, err.Error())
			return
		}

		newCursor := lowestMessageID(page.Messages)
		if err := c.store.Dialogs.AdvanceBackfillCursor(ctx, dialogID, newCursor); err != nil {
			log.Err(err).Msg("advancing backfill cursor")
			return
		}
		cursor = newCursor

		c.bus.Publish(TopicProgress, dialogID, Progress{DialogID: dialogID, MessageCount: len(page.Messages), Cursor: cursor})
		for _, id := range mediaIDs {
			c.media.Enqueue(id, MediaPriorityBackfill)
		}

		if page.NextFromID == 0 {
			_ = c.store.Dialogs.SetStatus(ctx, dialogID, model.DialogActive, "")
			c.bus.Publish(TopicProgress, dialogID, Progress{DialogID: dialogID, Cursor: cursor, Done: true})
			return
		}
	}
}

// persistPage writes one page of messages (and any attached media and
// extracted detections) in a single transaction, per spec.md §4.F step 2.
// Extraction isn't named explicitly in §4.F's step list, but running it
// here is the only way historical messages ever get indexed — §4.I's
// extractor exists to cover the whole corpus, not just live traffic.
func (c *Coordinator) persistPage(ctx context.Context, dialogID int64, messages []rpc.Message) ([]int64, error) {
	var mediaIDs []int64
	err := c.store.Database.DoTxn(ctx, nil, func(ctx context.Context) error {
		for _, msg := range messages {
			record := model.Message{
				DialogID:          dialogID,
				UpstreamMessageID: int64(msg.ID),
				Date:              msg.Date,
				Text:              msg.Text,
				ViewCount:         msg.ViewCount,
				ForwardCount:      msg.ForwardCount,
				Reactions:         msg.Reactions,
				MediaType:         mediaType(msg.Media),
			}
			if msg.SenderID != 0 {
				senderID, err := c.resolveSender(ctx, msg.SenderID)
				if err != nil {
					return fmt.Errorf("resolving sender %d: %w", msg.SenderID, err)
				}
				record.SenderID = &senderID
			}
			if msg.ReplyTo != 0 {
				replyTo := int64(msg.ReplyTo)
				record.ReplyTo = &replyTo
			}
			if msg.GroupedID != 0 {
				grouped := msg.GroupedID
				record.GroupedID = &grouped
			}

			messageID, outcome, err := c.store.Messages.Upsert(ctx, record)
			if err != nil {
				return fmt.Errorf("upserting message %d: %w", msg.ID, err)
			}
			if outcome != store.OutcomeInserted {
				// Already captured by a prior backfill run or the Live
				// Listener; backfill never overwrites it.
				continue
			}

			if msg.Media != nil {
				row, err := c.store.Media.Upsert(ctx, model.MediaFile{
					MessageID:        messageID,
					FileType:         record.MediaType,
					MIME:             msg.Media.MIME,
					Width:            msg.Media.Width,
					Height:           msg.Media.Height,
					DurationSeconds:  msg.Media.Duration,
					FileSize:         msg.Media.Size,
					ValidationStatus: model.ValidationPending,
					ProcessingStatus: model.ProcessingQueued,
				})
				if err != nil {
					return fmt.Errorf("upserting media for message %d: %w", msg.ID, err)
				}
				mediaIDs = append(mediaIDs, row.ID)
			}

			detections, err := c.extractor.Extract(ctx, messageID, record.Text)
			if err != nil {
				return fmt.Errorf("extracting detections for message %d: %w", msg.ID, err)
			}
			if len(detections) > 0 {
				if err := c.store.Detections.InsertBatch(ctx, c.store.BatchSize, detections); err != nil {
					return fmt.Errorf("inserting detections for message %d: %w", msg.ID, err)
				}
			}
		}
		return nil
	})
	return mediaIDs, err
}

func (c *Coordinator) resolveSender(ctx context.Context, upstreamID int64) (int64, error) {
	existing, err := c.store.Users.GetByUpstreamID(ctx, upstreamID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	id, _, err := c.store.Users.Upsert(ctx, c.store.IdentityChanges, model.User{UpstreamID: upstreamID})
	return id, err
}

func lowestMessageID(messages []rpc.Message) int64 {
	lowest := messages[0].ID
	for _, m := range messages[1:] {
		if m.ID < lowest {
			lowest = m.ID
		}
	}
	return int64(lowest)
}

func mediaType(m *rpc.MediaRef) model.MediaType {
	if m == nil {
		return model.MediaNone
	}
	switch model.MediaType(m.Type) {
	case model.MediaPhoto, model.MediaVideo, model.MediaGIF, model.MediaAudio,
		model.MediaVoice, model.MediaDocument, model.MediaSticker, model.MediaVideoNote:
		return model.MediaType(m.Type)
	default:
		return model.MediaDocument
	}
}
