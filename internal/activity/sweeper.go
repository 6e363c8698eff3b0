package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"activitybot/internal/models"
	"activitybot/internal/telemetry"
)

// SweepResult summarises one decay sweep.
type SweepResult struct {
	Scanned  int
	Revoked  int
	Restored int
	Renewed  int
	Cleared  int
	Skipped  int
	Failed   int
}

// Sweeper revokes the status role from users whose decay window elapsed
// without enough activity.
type Sweeper struct {
	store Store
	guild Guild
	rules models.Rules
	now   func() time.Time
	log   *slog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(store Store, guild Guild, rules models.Rules) *Sweeper {
	return &Sweeper{
		store: store,
		guild: guild,
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default().With(slog.String("component", "decay_sweeper")),
	}
}

// Start runs a sweep immediately and then every SweepInterval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("decay sweeper starting",
		slog.Duration("interval", s.rules.SweepInterval),
		slog.Duration("window", s.rules.DecayWindow),
		slog.String("policy", string(s.rules.DecayPolicy)))

	s.runLogged(ctx)

	ticker := time.NewTicker(s.rules.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("decay sweeper stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("decay sweep failed", slog.Any("err", err))
	}
}

// RunOnce performs a single sweep. Per-user failures are logged and counted
// in the result; only a failure to list records is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	ctx = telemetry.NewCorrelation(ctx)
	ctx, span := telemetry.StartSpan(ctx, "decay_sweeper.run")
	defer span.End()

	log := telemetry.LoggerWithCorr(ctx, s.log)
	start := time.Now()
	telemetry.Inc(telemetry.SweepRuns)

	var res SweepResult
	records, err := s.store.ListTimed(ctx)
	if err != nil && records == nil {
		telemetry.RecordError(span, err)
		return res, fmt.Errorf("list timed users: %w", err)
	}
	if err != nil {
		// unreadable rows; the rest are still swept
		res.Failed++
		telemetry.Inc(telemetry.SweepUserErrors)
		log.Error("skipping unreadable records", slog.Any("err", err))
	}

	now := s.now()
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		res.Scanned++
		if err := s.sweepUser(ctx, log, now, rec, &res); err != nil {
			res.Failed++
			telemetry.Inc(telemetry.SweepUserErrors)
			log.Error("decay check failed", slog.String("user_id", rec.UserID), slog.Any("err", err))
		}
	}

	d := telemetry.ObserveSince(telemetry.SweepDuration, start)
	span.SetAttributes(
		attribute.Int("scanned", res.Scanned),
		attribute.Int("revoked", res.Revoked),
		attribute.Int("failed", res.Failed))
	log.Info("decay sweep finished",
		slog.Int("scanned", res.Scanned),
		slog.Int("revoked", res.Revoked),
		slog.Int("restored", res.Restored),
		slog.Int("renewed", res.Renewed),
		slog.Int("cleared", res.Cleared),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Duration("took", d))
	return res, ctx.Err()
}

func (s *Sweeper) sweepUser(ctx context.Context, log *slog.Logger, now time.Time, rec *models.UserRecord, res *SweepResult) error {
	member, err := s.guild.Member(ctx, rec.UserID)
	if IsMemberGone(err) {
		res.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	if s.rules.IsProtected(member.Roles) || !rec.TimerActive() {
		res.Skipped++
		return nil
	}
	if now.Sub(*rec.TimerStart) < s.rules.DecayWindow {
		return nil
	}

	messages, voice := rec.Messages, rec.VoiceTime
	if s.rules.DecayPolicy == models.DecayRolling {
		messages, voice = rec.PeriodMessages, rec.PeriodVoiceTime
	}

	if messages >= s.rules.Inactive.Messages && voice >= int64(s.rules.Inactive.VoiceTime.Seconds()) {
		if s.rules.DecayPolicy != models.DecayRolling {
			return nil
		}
		if err := s.store.SetFields(ctx, rec.UserID, models.FieldUpdate{TimerStart: &now, ResetPeriod: true}); err != nil {
			return err
		}
		res.Renewed++
		log.Info("decay window renewed", slog.String("user_id", rec.UserID),
			slog.Int64("messages", messages), slog.Int64("voice_time", voice))
		return nil
	}

	if !s.rules.HasStatus(member.Roles) {
		// role removed by hand; the timer has nothing left to guard
		if err := s.store.SetFields(ctx, rec.UserID, models.FieldUpdate{ClearTimer: true, ResetPeriod: true}); err != nil {
			return err
		}
		res.Cleared++
		return nil
	}

	if err := s.guild.RemoveRole(ctx, rec.UserID, s.rules.StatusRoleID); err != nil {
		telemetry.Inc(telemetry.RoleMutationErrors)
		return fmt.Errorf("revoke status role: %w", err)
	}
	res.Revoked++
	telemetry.Inc(telemetry.Revocations)
	log.Info("status role revoked", slog.String("user_id", rec.UserID),
		slog.Int64("messages", messages), slog.Int64("voice_time", voice))

	if rec.PrevRoleID != "" && s.guild.RoleExists(ctx, rec.PrevRoleID) {
		if err := s.guild.AddRole(ctx, rec.UserID, rec.PrevRoleID); err != nil {
			telemetry.Inc(telemetry.RoleMutationErrors)
			log.Error("restore previous role failed", slog.String("user_id", rec.UserID),
				slog.String("role_id", rec.PrevRoleID), slog.Any("err", err))
		} else {
			res.Restored++
			telemetry.Inc(telemetry.RoleRestores)
		}
	}

	return s.store.SetFields(ctx, rec.UserID, models.FieldUpdate{
		ClearTimer:    true,
		ResetPeriod:   true,
		ResetCounters: s.rules.ResetCountersOnRevoke,
	})
}
