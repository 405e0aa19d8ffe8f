// Package enrichment implements the three periodic Enrichment
// Schedulers of spec.md §4.H: a member scraper, a profile-photo
// scanner, and a story scanner. Each is single-flight (a tick while the
// previous run is still in flight is a no-op) and fans its per-dialog
// or per-user work out across a bounded worker pool, calling through
// pkg/session's built-in retry wrapper at PriorityEnrichment.
//
// Grounded on pkg/connector/sync.go's periodic dialog/participant sync
// loop, generalized from Matrix-triggered sync to the spec's own
// cron-style "every N hours" scheduling (no direct teacher equivalent —
// the teacher syncs members on demand, not on a timer).
package enrichment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/session"
	"github.com/ingestlab/telecorpus/pkg/store"
)

type Publisher interface {
	Publish(topic string, dialogID int64, payload any)
}

const (
	TopicMembershipChange = "membership_change"
	TopicProfilePhoto     = "profile_photo"
	TopicStory            = "story"
)

// Schedulers owns the three independent loops and their shared
// configuration.
type Schedulers struct {
	store    *store.Store
	sessions *session.Manager
	bus      Publisher
	log      zerolog.Logger
	cfg      config.EnrichmentConfig

	memberScrapeRunning atomic.Bool
	profilePhotoRunning atomic.Bool
	storyRunning        atomic.Bool

	wg sync.WaitGroup
}

func New(st *store.Store, sessions *session.Manager, bus Publisher, log zerolog.Logger, cfg config.EnrichmentConfig) *Schedulers {
	return &Schedulers{
		store:    st,
		sessions: sessions,
		bus:      bus,
		log:      log.With().Str("component", "enrichment").Logger(),
		cfg:      cfg,
	}
}

// Run starts all three loops; each exits once ctx is cancelled.
func (s *Schedulers) Run(ctx context.Context) {
	s.startLoop(ctx, "member_scrape", s.cfg.MemberScrapeEvery, &s.memberScrapeRunning, s.scrapeMembers)
	s.startLoop(ctx, "profile_photo", s.cfg.ProfilePhotoEvery, &s.profilePhotoRunning, s.scanProfilePhotos)
	s.startLoop(ctx, "story", s.cfg.StoryEvery, &s.storyRunning, s.scanStories)
}

func (s *Schedulers) Wait() {
	s.wg.Wait()
}

func (s *Schedulers) startLoop(ctx context.Context, name string, every time.Duration, running *atomic.Bool, fn func(ctx context.Context)) {
	if every <= 0 {
		every = time.Hour
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !running.CompareAndSwap(false, true) {
					s.log.Debug().Str("loop", name).Msg("previous run still in flight, skipping tick")
					continue
				}
				fn(ctx)
				running.Store(false)
			}
		}
	}()
}

// anySession returns a live session to issue a user-scoped (not
// dialog-scoped) RPC through; iter_profile_photos/iter_stories aren't
// bound to any particular account's dialogs.
func (s *Schedulers) anySession() (*session.Session, bool) {
	all := s.sessions.All()
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

func (s *Schedulers) parallelism() int {
	if s.cfg.ParallelWorkers <= 0 {
		return 4
	}
	return s.cfg.ParallelWorkers
}

func (s *Schedulers) batchSize() int {
	if s.cfg.BatchSize <= 0 {
		return 200
	}
	return s.cfg.BatchSize
}

// ScrapeDialogNow runs the Member Scraper for a single dialog outside
// its regular ticker, for the AutoJoiner's "scrape_members" post-join
// action (spec.md §4.K).
func (s *Schedulers) ScrapeDialogNow(ctx context.Context, dialogID int64) error {
	dialog, err := s.store.Dialogs.GetByID(ctx, dialogID)
	if err != nil {
		return err
	}
	if dialog.AssignedAccount == nil {
		return fmt.Errorf("dialog %d has no assigned account", dialogID)
	}
	s.scrapeDialogMembers(ctx, dialog)
	return nil
}

// scrapeMembers implements spec.md §4.H's Member Scraper: for each
// active, assigned group/supergroup dialog, iterate participants in
// pages, upsert Users/Memberships, and mark anyone no longer observed
// as left.
func (s *Schedulers) scrapeMembers(ctx context.Context) {
	dialogs, err := s.store.Dialogs.ListScrapableGroups(ctx)
	if err != nil {
		s.log.Err(err).Msg("listing scrapable groups")
		return
	}
	forEach(s, ctx, dialogs, func(ctx context.Context, dialog *store.DialogRow) {
		s.scrapeDialogMembers(ctx, dialog)
	})
}

func (s *Schedulers) scrapeDialogMembers(ctx context.Context, dialog *store.DialogRow) {
	sess, ok := s.sessions.Get(*dialog.AssignedAccount)
	if !ok {
		return
	}

	seen := make(map[int64]bool)
	offset := 0
	limit := s.batchSize()
	for {
		participants, err := sess.IterParticipants(ctx, session.PriorityEnrichment, dialog.UpstreamID, offset, limit)
		if err != nil {
			s.log.Err(err).Int64("dialog_id", dialog.ID).Msg("iterating participants")
			return
		}
		if len(participants) == 0 {
			break
		}
		for _, p := range participants {
			userID, err := s.resolveUser(ctx, p.UserID)
			if err != nil {
				s.log.Err(err).Int64("upstream_user_id", p.UserID).Msg("resolving participant")
				continue
			}
			seen[userID] = true
			if err := s.store.Memberships.Upsert(ctx, model.Membership{
				UserID:     userID,
				DialogID:   dialog.ID,
				JoinedAt:   p.JoinedAt,
				IsAdmin:    p.IsAdmin,
				AdminTitle: p.AdminTitle,
			}); err != nil {
				s.log.Err(err).Int64("user_id", userID).Int64("dialog_id", dialog.ID).Msg("upserting membership")
				continue
			}
			s.bus.Publish(TopicMembershipChange, dialog.ID, userID)
		}
		if len(participants) < limit {
			break
		}
		offset += limit
	}

	s.markDeparted(ctx, dialog.ID, seen)
	if err := s.store.Dialogs.TouchMemberScrape(ctx, dialog.ID); err != nil {
		s.log.Err(err).Int64("dialog_id", dialog.ID).Msg("touching member scrape timestamp")
	}
}

// markDeparted flags memberships the latest scrape no longer observed
// as inactive, per spec.md §4.H ("members no longer present are marked
// inactive, not deleted").
func (s *Schedulers) markDeparted(ctx context.Context, dialogID int64, seen map[int64]bool) {
	active, err := s.store.Memberships.ListActiveByDialog(ctx, dialogID)
	if err != nil {
		s.log.Err(err).Int64("dialog_id", dialogID).Msg("listing active memberships")
		return
	}
	for _, m := range active {
		if seen[m.UserID] {
			continue
		}
		if err := s.store.Memberships.MarkLeft(ctx, m.UserID, dialogID, "not observed in latest scrape"); err != nil {
			s.log.Err(err).Int64("user_id", m.UserID).Int64("dialog_id", dialogID).Msg("marking membership left")
			continue
		}
		s.bus.Publish(TopicMembershipChange, dialogID, m.UserID)
	}
}

func (s *Schedulers) resolveUser(ctx context.Context, upstreamID int64) (int64, error) {
	existing, err := s.store.Users.GetByUpstreamID(ctx, upstreamID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	id, _, err := s.store.Users.Upsert(ctx, s.store.IdentityChanges, model.User{UpstreamID: upstreamID})
	return id, err
}

// scanProfilePhotos implements spec.md §4.H's Profile-Photo Scanner:
// sweep every user, insert newly observed photos, and atomically flip
// is_current to the latest one per user.
func (s *Schedulers) scanProfilePhotos(ctx context.Context) {
	sess, ok := s.anySession()
	if !ok {
		return
	}
	var after int64
	for {
		users, err := s.store.Users.ListAfter(ctx, after, s.batchSize())
		if err != nil {
			s.log.Err(err).Msg("paging users for profile-photo scan")
			return
		}
		if len(users) == 0 {
			return
		}
		forEach(s, ctx, users, func(ctx context.Context, user *store.UserRow) {
			s.scanUserPhotos(ctx, sess, user)
		})
		after = users[len(users)-1].ID
		if len(users) < s.batchSize() {
			return
		}
	}
}

func (s *Schedulers) scanUserPhotos(ctx context.Context, sess *session.Session, user *store.UserRow) {
	photos, err := sess.IterProfilePhotos(ctx, session.PriorityEnrichment, user.UpstreamID, 0, s.batchSize())
	if err != nil {
		s.log.Err(err).Int64("user_id", user.ID).Msg("iterating profile photos")
		return
	}
	if len(photos) == 0 {
		return
	}

	var latestID int64
	for _, p := range photos {
		id, outcome, err := s.store.ProfilePhotos.Insert(ctx, model.ProfilePhoto{
			UserID:          user.ID,
			UpstreamPhotoID: p.UpstreamID,
			IsVideo:         p.IsVideo,
			CapturedAt:      p.CapturedAt,
		})
		if err != nil {
			s.log.Err(err).Int64("user_id", user.ID).Msg("inserting profile photo")
			continue
		}
		if outcome == store.OutcomeInserted {
			s.bus.Publish(TopicProfilePhoto, 0, id)
		}
		// iter_profile_photos returns newest first (spec.md §4.H);
		// the first successfully recorded row is the new current one.
		if latestID == 0 {
			latestID = id
		}
	}
	if latestID != 0 {
		if err := s.store.ProfilePhotos.SetCurrent(ctx, user.ID, latestID); err != nil {
			s.log.Err(err).Int64("user_id", user.ID).Msg("flipping current profile photo")
		}
	}
}

// scanStories implements spec.md §4.H's Story Scanner: sweep users
// flagged has_stories=true and record any not yet seen.
func (s *Schedulers) scanStories(ctx context.Context) {
	sess, ok := s.anySession()
	if !ok {
		return
	}
	var after int64
	for {
		users, err := s.store.Users.ListWithStoriesAfter(ctx, after, s.batchSize())
		if err != nil {
			s.log.Err(err).Msg("paging users with stories")
			return
		}
		if len(users) == 0 {
			return
		}
		forEach(s, ctx, users, func(ctx context.Context, user *store.UserRow) {
			s.scanUserStories(ctx, sess, user)
		})
		after = users[len(users)-1].ID
		if len(users) < s.batchSize() {
			return
		}
	}
}

func (s *Schedulers) scanUserStories(ctx context.Context, sess *session.Session, user *store.UserRow) {
	stories, err := sess.IterStories(ctx, session.PriorityEnrichment, user.UpstreamID)
	if err != nil {
		s.log.Err(err).Int64("user_id", user.ID).Msg("iterating stories")
		return
	}
	for _, st := range stories {
		row, err := s.store.Stories.Upsert(ctx, model.Story{
			UserID:          user.ID,
			UpstreamStoryID: st.UpstreamID,
			ExpiresAt:       st.ExpiresAt,
			ViewsCount:      st.ViewCount,
			IsPinned:        st.IsPinned,
		})
		if err != nil {
			s.log.Err(err).Int64("user_id", user.ID).Msg("upserting story")
			continue
		}
		s.bus.Publish(TopicStory, 0, row.ID)
	}
}

// forEach fans items out across s.parallelism() workers, blocking until
// every started item has been processed; once ctx is cancelled no
// further items are started.
func forEach[T any](s *Schedulers, ctx context.Context, items []T, fn func(ctx context.Context, item T)) {
	sem := make(chan struct{}, s.parallelism())
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, item)
		}()
	}
	wg.Wait()
}
