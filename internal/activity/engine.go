package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"activitybot/internal/models"
	"activitybot/internal/telemetry"
)

// Engine decides whether a user gains the status role or starts a decay
// timer. It never revokes; that is the sweeper's job.
type Engine struct {
	store Store
	guild Guild
	rules models.Rules
	now   func() time.Time
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine.
func NewEngine(store Store, guild Guild, rules models.Rules) *Engine {
	return &Engine{
		store: store,
		guild: guild,
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default().With(slog.String("component", "role_engine")),
		locks: make(map[string]*sync.Mutex),
	}
}

// lock serialises evaluations of the same user.
func (e *Engine) lock(userID string) func() {
	e.mu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Evaluate applies the promotion rules to userID.
func (e *Engine) Evaluate(ctx context.Context, userID string) (models.Action, error) {
	ctx, span := telemetry.StartSpan(ctx, "role_engine.evaluate", attribute.String("user_id", userID))
	defer span.End()

	unlock := e.lock(userID)
	defer unlock()

	action, err := e.evaluate(ctx, userID)
	telemetry.RecordError(span, err)
	span.SetAttributes(attribute.String("action", action.String()))
	return action, err
}

func (e *Engine) evaluate(ctx context.Context, userID string) (models.Action, error) {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return models.ActionNone, err
	}
	if rec == nil {
		return models.ActionNone, nil
	}

	member, err := e.guild.Member(ctx, userID)
	if err != nil {
		return models.ActionNone, fmt.Errorf("resolve member %s: %w", userID, err)
	}
	if e.rules.IsProtected(member.Roles) {
		return models.ActionExempt, nil
	}

	hasStatus := e.rules.HasStatus(member.Roles)
	switch {
	case !hasStatus && e.eligible(rec):
		if err := e.promote(ctx, member, rec); err != nil {
			return models.ActionNone, err
		}
		return models.ActionPromote, nil
	case hasStatus && !rec.TimerActive():
		now := e.now()
		if err := e.store.SetFields(ctx, userID, models.FieldUpdate{TimerStart: &now, ResetPeriod: true}); err != nil {
			return models.ActionNone, err
		}
		telemetry.Inc(telemetry.TimersStarted)
		e.log.Info("decay timer started", slog.String("user_id", userID))
		return models.ActionStartTimer, nil
	}
	return models.ActionNone, nil
}

func (e *Engine) eligible(rec *models.UserRecord) bool {
	return rec.Messages >= e.rules.Promote.Messages &&
		rec.VoiceTime >= int64(e.rules.Promote.VoiceTime.Seconds())
}

// promote swaps superseded roles for the status role. Superseded roles are
// removed in ascending id order and the lowest one is remembered so the
// sweeper can restore it.
func (e *Engine) promote(ctx context.Context, member *Member, rec *models.UserRecord) error {
	held := heldRoles(member.Roles, e.rules.SupersededRoleIDs)
	prevRole := rec.PrevRoleID
	if len(held) > 0 {
		prevRole = held[0]
	}

	for _, roleID := range held {
		if err := e.guild.RemoveRole(ctx, member.ID, roleID); err != nil {
			return e.mutationFailed("remove superseded role", member.ID, roleID, err)
		}
	}
	if err := e.guild.AddRole(ctx, member.ID, e.rules.StatusRoleID); err != nil {
		return e.mutationFailed("grant status role", member.ID, e.rules.StatusRoleID, err)
	}

	now := e.now()
	if err := e.store.SetFields(ctx, member.ID, models.FieldUpdate{
		TimerStart:  &now,
		PrevRoleID:  &prevRole,
		ResetPeriod: true,
	}); err != nil {
		return err
	}

	telemetry.Inc(telemetry.Promotions)
	e.log.Info("status role granted",
		slog.String("user_id", member.ID),
		slog.String("prev_role_id", prevRole),
		slog.Int64("messages", rec.Messages),
		slog.Int64("voice_time", rec.VoiceTime))
	return nil
}

func (e *Engine) mutationFailed(op, userID, roleID string, err error) error {
	telemetry.Inc(telemetry.RoleMutationErrors)
	e.log.Error("role mutation failed",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
		slog.Any("err", err))
	return fmt.Errorf("%s %s for %s: %w", op, roleID, userID, err)
}

// heldRoles returns the members of candidates present in roles, ordered by
// ascending snowflake.
func heldRoles(roles, candidates []string) []string {
	var held []string
	for _, id := range candidates {
		if slices.Contains(roles, id) && !slices.Contains(held, id) {
			held = append(held, id)
		}
	}
	slices.SortFunc(held, compareSnowflakes)
	return held
}

// compareSnowflakes orders numeric ids without parsing them.
func compareSnowflakes(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Report is what the check command shows for one member.
type Report struct {
	Member    *Member
	Record    *models.UserRecord
	Protected bool
	HasStatus bool
	DaysLeft  int
}

// Inspect evaluates userID (unless protected) and reports the resulting state.
func (e *Engine) Inspect(ctx context.Context, userID string) (*Report, error) {
	member, err := e.guild.Member(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &Report{Member: member}
	if e.rules.IsProtected(member.Roles) {
		report.Protected = true
		return report, nil
	}

	action, err := e.Evaluate(ctx, userID)
	if err != nil {
		// the report still reflects whatever was committed
		e.log.Warn("evaluation during check failed", slog.String("user_id", userID), slog.Any("err", err))
	}
	if action == models.ActionPromote {
		member.Roles = append(slices.Clone(member.Roles), e.rules.StatusRoleID)
	}

	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	report.Record = rec
	report.HasStatus = e.rules.HasStatus(member.Roles)
	if rec.TimerActive() {
		report.DaysLeft = e.daysLeft(*rec.TimerStart)
	}
	return report, nil
}

func (e *Engine) daysLeft(start time.Time) int {
	elapsed := int(e.now().Sub(start) / (24 * time.Hour))
	return max(0, e.rules.DecayWindowDays()-elapsed)
}

// IsMemberGone reports whether err means the user left the guild.
func IsMemberGone(err error) bool {
	return errors.Is(err, ErrMemberNotFound)
}
