package activity

import (
	"context"
	"sync"
	"testing"
	"time"
)

// manualTickers hands each session its own tick channel.
type manualTickers struct {
	mu    sync.Mutex
	chans map[int]chan time.Time
	n     int
}

func (m *manualTickers) ticker(d time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chans == nil {
		m.chans = make(map[int]chan time.Time)
	}
	ch := make(chan time.Time)
	m.chans[m.n] = ch
	m.n++
	return ch, func() {}
}

func (m *manualTickers) send(t *testing.T, session, n int) {
	t.Helper()
	var ch chan time.Time
	deadline := time.Now().Add(2 * time.Second)
	for ch == nil {
		m.mu.Lock()
		ch = m.chans[session]
		m.mu.Unlock()
		if ch == nil {
			if time.Now().After(deadline) {
				t.Fatalf("session %d never started its ticker", session)
			}
			time.Sleep(time.Millisecond)
		}
	}
	for i := 0; i < n; i++ {
		select {
		case ch <- testNow:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not consumed", i)
		}
	}
}

func newTestTracker(store *memStore, guild *fakeGuild) (*VoiceTracker, *manualTickers) {
	rules := testRules()
	tickers := &manualTickers{}
	tracker := NewVoiceTracker(NewCounters(store, rules), newTestEngine(store, guild, rules), rules)
	tracker.ticker = tickers.ticker
	return tracker, tickers
}

func TestVoiceTrackerCreditsTicks(t *testing.T) {
	store := newMemStore()
	guild := newFakeGuild(statusRole)
	guild.addMember("u1")
	tracker, tickers := newTestTracker(store, guild)

	tracker.Update(context.Background(), "u1", "c1", "General")
	tickers.send(t, 0, 10)
	tracker.Leave("u1")

	rec := store.record("u1")
	if rec == nil || rec.VoiceTime != 600 {
		t.Fatalf("record = %+v, want voice_time 600", rec)
	}
	if len(guild.mutations()) != 0 {
		t.Errorf("mutations = %v, want none below threshold", guild.mutations())
	}
	if tracker.Active() != 0 {
		t.Errorf("Active = %d, want 0", tracker.Active())
	}
}

func TestVoiceTrackerExcludedChannelStopsSession(t *testing.T) {
	store := newMemStore()
	guild := newFakeGuild(statusRole)
	guild.addMember("u1")
	tracker, tickers := newTestTracker(store, guild)
	ctx := context.Background()

	tracker.Update(ctx, "u1", "c1", "General")
	tickers.send(t, 0, 2)
	tracker.Update(ctx, "u1", "afk", tracker.rules.ExcludedChannel)

	if tracker.Active() != 0 {
		t.Fatalf("Active = %d, want session stopped", tracker.Active())
	}
	if got := store.record("u1").VoiceTime; got != 120 {
		t.Errorf("VoiceTime = %d, want 120", got)
	}

	// joining the excluded channel directly never starts a session
	tracker.Update(ctx, "u2", "afk", tracker.rules.ExcludedChannel)
	if tracker.Active() != 0 {
		t.Errorf("Active = %d, want no session in excluded channel", tracker.Active())
	}
}

func TestVoiceTrackerMoveKeepsSession(t *testing.T) {
	store := newMemStore()
	guild := newFakeGuild(statusRole)
	guild.addMember("u1")
	tracker, tickers := newTestTracker(store, guild)
	ctx := context.Background()

	tracker.Update(ctx, "u1", "c1", "General")
	tickers.send(t, 0, 1)
	tracker.Update(ctx, "u1", "c2", "Gaming")
	tickers.send(t, 0, 1)
	tracker.StopAll()

	if tickers.n != 1 {
		t.Errorf("tickers started = %d, want a single session", tickers.n)
	}
	if got := store.record("u1").VoiceTime; got != 120 {
		t.Errorf("VoiceTime = %d, want 120", got)
	}
}

func TestVoiceTrackerPromotesOnThreshold(t *testing.T) {
	store := newMemStore()
	guild := newFakeGuild(statusRole)
	guild.addMember("u1")
	rec := eligibleRecord("u1")
	rec.VoiceTime -= 60
	store.put(rec)
	tracker, tickers := newTestTracker(store, guild)

	tracker.Update(context.Background(), "u1", "c1", "General")
	tickers.send(t, 0, 1)
	tracker.Leave("u1")

	if got := store.record("u1"); !got.TimerActive() {
		t.Error("crossing the voice threshold should promote and start the timer")
	}
}

func TestVoiceTrackerLeaveUnknown(t *testing.T) {
	tracker, _ := newTestTracker(newMemStore(), newFakeGuild())
	tracker.Leave("nobody")
	if tracker.Active() != 0 {
		t.Errorf("Active = %d, want 0", tracker.Active())
	}
}
