package activity

import (
	"context"
	"strings"
	"unicode/utf8"

	"activitybot/internal/models"
	"activitybot/internal/telemetry"
)

// minContentLength is the trimmed length, in characters, a text-only message
// needs to count.
const minContentLength = 3

// Message is an inbound chat message reduced to what the counters look at.
type Message struct {
	AuthorID    string
	AuthorBot   bool
	Content     string
	Attachments int
	Stickers    int
	Embeds      int
}

// Counters increments activity counters in the store.
type Counters struct {
	store Store
	rules models.Rules
}

// NewCounters creates counters bound to store.
func NewCounters(store Store, rules models.Rules) *Counters {
	return &Counters{store: store, rules: rules}
}

// IsCommand reports whether content is a command invocation.
func (c *Counters) IsCommand(content string) bool {
	return c.rules.CommandPrefix != "" && strings.HasPrefix(content, c.rules.CommandPrefix)
}

// IsSubstantive reports whether m carries enough content to count.
func IsSubstantive(m Message) bool {
	if m.Attachments > 0 || m.Stickers > 0 || m.Embeds > 0 {
		return true
	}
	return utf8.RuneCountInString(strings.TrimSpace(m.Content)) >= minContentLength
}

// RecordMessage counts m for its author when it is substantive and not a
// command. It reports whether the message was counted.
func (c *Counters) RecordMessage(ctx context.Context, m Message) (bool, error) {
	if m.AuthorBot || m.AuthorID == "" || c.IsCommand(m.Content) || !IsSubstantive(m) {
		return false, nil
	}
	if err := c.store.UpsertIncrement(ctx, m.AuthorID, models.CounterMessages, 1); err != nil {
		return false, err
	}
	telemetry.Inc(telemetry.MessagesCounted)
	return true, nil
}

// CreditVoice adds one voice tick to userID.
func (c *Counters) CreditVoice(ctx context.Context, userID string) error {
	seconds := int64(c.rules.VoiceTick.Seconds())
	if err := c.store.UpsertIncrement(ctx, userID, models.CounterVoiceTime, seconds); err != nil {
		return err
	}
	telemetry.Inc(telemetry.VoiceTicks)
	return nil
}
