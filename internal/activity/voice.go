package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"activitybot/internal/models"
	"activitybot/internal/telemetry"
)

// tickerFunc returns a tick channel and a stop function.
type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type voiceSession struct {
	models.VoiceSession
	cancel context.CancelFunc
	done   chan struct{}
}

// VoiceTracker credits voice time to members sitting in eligible channels.
// Each member gets one session goroutine, started on join and cancelled on
// leave or on a move into the excluded channel.
type VoiceTracker struct {
	counters *Counters
	engine   *Engine
	rules    models.Rules
	ticker   tickerFunc
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*voiceSession // key: userID
}

// NewVoiceTracker creates a tracker.
func NewVoiceTracker(counters *Counters, engine *Engine, rules models.Rules) *VoiceTracker {
	return &VoiceTracker{
		counters: counters,
		engine:   engine,
		rules:    rules,
		ticker:   realTicker,
		log:      slog.Default().With(slog.String("component", "voice_tracker")),
		sessions: make(map[string]*voiceSession),
	}
}

// Eligible reports whether time in channelName counts.
func (t *VoiceTracker) Eligible(channelID, channelName string) bool {
	return channelID != "" && channelName != t.rules.ExcludedChannel
}

// Update applies a voice state change for userID: joining or moving into an
// eligible channel starts (or keeps) the session, anything else stops it.
func (t *VoiceTracker) Update(ctx context.Context, userID, channelID, channelName string) {
	if t.Eligible(channelID, channelName) {
		t.Join(ctx, userID, channelID)
		return
	}
	t.Leave(userID)
}

// Join starts a session for userID. A member already tracked keeps their
// session and only the channel is updated.
func (t *VoiceTracker) Join(ctx context.Context, userID, channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[userID]; ok {
		s.ChannelID = channelID
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &voiceSession{
		VoiceSession: models.VoiceSession{Start: time.Now().UTC(), ChannelID: channelID},
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	t.sessions[userID] = s
	telemetry.SetVoiceSessions(len(t.sessions))
	t.log.Info("voice session started", slog.String("user_id", userID), slog.String("channel_id", channelID))

	go t.run(sctx, userID, s)
}

// Leave stops the session for userID and waits for it to exit.
func (t *VoiceTracker) Leave(userID string) {
	t.mu.Lock()
	s, ok := t.sessions[userID]
	if ok {
		delete(t.sessions, userID)
		telemetry.SetVoiceSessions(len(t.sessions))
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	s.cancel()
	<-s.done
	t.log.Info("voice session ended",
		slog.String("user_id", userID),
		slog.String("channel_id", s.ChannelID),
		slog.Duration("duration", time.Since(s.Start)))
}

// StopAll ends every session.
func (t *VoiceTracker) StopAll() {
	for _, userID := range t.Tracked() {
		t.Leave(userID)
	}
}

// Tracked returns the ids of users with an active session.
func (t *VoiceTracker) Tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Active returns the number of tracked sessions.
func (t *VoiceTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *VoiceTracker) run(ctx context.Context, userID string, s *voiceSession) {
	defer close(s.done)

	ticks, stop := t.ticker(t.rules.VoiceTick)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			t.tick(ctx, userID)
		}
	}
}

func (t *VoiceTracker) tick(ctx context.Context, userID string) {
	if err := t.counters.CreditVoice(ctx, userID); err != nil {
		t.log.Error("credit voice time failed", slog.String("user_id", userID), slog.Any("err", err))
		return
	}
	if _, err := t.engine.Evaluate(ctx, userID); err != nil && ctx.Err() == nil {
		t.log.Warn("role evaluation failed", slog.String("user_id", userID), slog.Any("err", err))
	}
}
