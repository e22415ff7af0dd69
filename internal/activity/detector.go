package activity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gordyrad/chat-pulse/internal/config"
)

// SnapshotKey names the detector's persisted state document.
const SnapshotKey = "activity"

// Event is one incoming chat message as seen by the detector.
type Event struct {
	GuildID    string
	ChannelID  string
	CategoryID string
	AuthorID   string
	Bot        bool
	At         time.Time
}

// Snapshotter persists whole-document state snapshots.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, name string, v any) error
	LoadSnapshot(ctx context.Context, name string, v any) (bool, error)
}

type entry struct {
	AuthorID string    `json:"author_id"`
	At       time.Time `json:"at"`
}

type channelState struct {
	Events        []entry    `json:"events"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

type state struct {
	Day      string                   `json:"day"`
	Channels map[string]*channelState `json:"channels"`
}

// Detector decides when a channel becomes hot. It is safe for concurrent use.
type Detector struct {
	cfg      config.ActivityConfig
	excluded map[string]bool
	maxDur   time.Duration
	loc      *time.Location
	snap     Snapshotter
	logger   *slog.Logger

	mu sync.Mutex
	st state
}

// New creates a Detector. snap may be nil for an in-memory detector.
func New(cfg config.ActivityConfig, loc *time.Location, snap Snapshotter, logger *slog.Logger) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	excluded := make(map[string]bool, len(cfg.ExcludedCategories))
	for _, c := range cfg.ExcludedCategories {
		excluded[c] = true
	}
	return &Detector{
		cfg:      cfg,
		excluded: excluded,
		maxDur:   cfg.MaxRuleDuration(),
		loc:      loc,
		snap:     snap,
		logger:   logger.With("component", "activity"),
		st:       state{Channels: make(map[string]*channelState)},
	}
}

// Load restores the last persisted state, if any.
func (d *Detector) Load(ctx context.Context) error {
	if d.snap == nil {
		return nil
	}
	var st state
	found, err := d.snap.LoadSnapshot(ctx, SnapshotKey, &st)
	if err != nil || !found {
		return err
	}
	if st.Channels == nil {
		st.Channels = make(map[string]*channelState)
	}
	d.mu.Lock()
	d.st = st
	d.mu.Unlock()
	return nil
}

// OnMessage records ev and reports whether its channel just became hot.
// A true result puts the channel into cooldown and clears its window.
func (d *Detector) OnMessage(ctx context.Context, ev Event) bool {
	if !d.tracked(ev) {
		return false
	}
	now := ev.At

	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetIfNewDayLocked(now)

	ch := d.st.Channels[ev.ChannelID]
	if ch != nil && ch.CooldownUntil != nil {
		if now.Before(*ch.CooldownUntil) {
			return false
		}
		ch.CooldownUntil = nil
	}
	if ch == nil {
		ch = &channelState{}
		d.st.Channels[ev.ChannelID] = ch
	}

	if n := len(ch.Events); n > 0 && now.Sub(ch.Events[n-1].At) > d.maxDur {
		ch.Events = nil
	}
	ch.Events = append(ch.Events, entry{AuthorID: ev.AuthorID, At: now})
	ch.Events = slices.DeleteFunc(ch.Events, func(e entry) bool {
		return now.Sub(e.At) >= d.maxDur
	})

	triggered := false
	for i, r := range d.cfg.Rules {
		if ruleSatisfied(ch.Events, r, now) {
			d.logger.Info("channel is hot", "channel_id", ev.ChannelID, "rule", i+1, "events", len(ch.Events))
			triggered = true
			break
		}
	}
	if triggered {
		until := now.Add(d.cfg.Cooldown)
		ch.CooldownUntil = &until
		ch.Events = nil
	}

	d.persistLocked(ctx)
	return triggered
}

// ResetIfNewDay clears every window and cooldown when now falls on a later
// calendar day than the last reset.
func (d *Detector) ResetIfNewDay(ctx context.Context, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.resetIfNewDayLocked(now) {
		return false
	}
	d.persistLocked(ctx)
	return true
}

// ResetAll clears every window and cooldown.
func (d *Detector) ResetAll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.Channels = make(map[string]*channelState)
	d.persistLocked(ctx)
}

// InCooldown reports whether channelID is cooling down at now.
func (d *Detector) InCooldown(channelID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.st.Channels[channelID]
	return ch != nil && ch.CooldownUntil != nil && now.Before(*ch.CooldownUntil)
}

func (d *Detector) tracked(ev Event) bool {
	if d.cfg.TargetGuildID != "" && ev.GuildID != d.cfg.TargetGuildID {
		return false
	}
	if ev.ChannelID == "" || ev.AuthorID == "" || ev.Bot {
		return false
	}
	if d.excluded[ev.CategoryID] {
		return false
	}
	if d.cfg.NotificationChannelID != "" && ev.ChannelID == d.cfg.NotificationChannelID {
		return false
	}
	return true
}

func (d *Detector) resetIfNewDayLocked(now time.Time) bool {
	day := now.In(d.loc).Format(time.DateOnly)
	if d.st.Day == day {
		return false
	}
	if d.st.Day != "" {
		d.logger.Info("daily activity reset", "day", day)
	}
	d.st.Day = day
	d.st.Channels = make(map[string]*channelState)
	return true
}

func (d *Detector) persistLocked(ctx context.Context) {
	if d.snap == nil {
		return
	}
	if err := d.snap.SaveSnapshot(ctx, SnapshotKey, d.st); err != nil {
		d.logger.Warn("failed to persist activity state", "error", err)
	}
}

// ruleSatisfied evaluates r over the events inside its own window. Each
// author contributes at most r.MaxContributionPerUser events.
func ruleSatisfied(events []entry, r config.Rule, now time.Time) bool {
	perAuthor := make(map[string]int)
	total := 0
	for _, e := range events {
		if now.Sub(e.At) >= r.Duration {
			continue
		}
		if perAuthor[e.AuthorID] < r.MaxContributionPerUser {
			total++
		}
		perAuthor[e.AuthorID]++
	}
	return len(perAuthor) >= r.MinUsers && total >= r.MinMsgs
}
