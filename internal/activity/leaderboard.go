package activity

import (
	"context"
	"log/slog"
	"slices"

	"activitybot/internal/models"
)

// voiceMinuteWeight is how many messages one minute in voice is worth.
const voiceMinuteWeight = 3

// Ranked is a leaderboard entry.
type Ranked struct {
	Record models.UserRecord
	Score  int64
}

// Score is the composite ranking score of rec.
func Score(rec models.UserRecord) int64 {
	return rec.Messages + voiceMinuteWeight*(rec.VoiceTime/60)
}

// Rank orders records by descending score and returns at most n entries.
// Equal scores keep the order the records came in.
func Rank(records []models.UserRecord, n int) []Ranked {
	ranked := make([]Ranked, len(records))
	for i, rec := range records {
		ranked[i] = Ranked{Record: rec, Score: Score(rec)}
	}
	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Top loads every record from store and ranks them. Unreadable rows are
// logged and left out of the ranking.
func Top(ctx context.Context, store Store, n int) ([]Ranked, error) {
	records, err := store.List(ctx)
	if err != nil && records == nil {
		return nil, err
	}
	if err != nil {
		slog.Warn("leaderboard skipping unreadable records",
			slog.String("component", "leaderboard"), slog.Any("err", err))
	}
	return Rank(records, n), nil
}
