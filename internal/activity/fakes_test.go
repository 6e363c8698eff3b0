package activity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"activitybot/internal/models"
)

const (
	statusRole    = "1060759821856555119"
	oldRoleHigh   = "1379573779839189022"
	oldRoleLow    = "1266456229945937983"
	protectedRole = "1279364611052802130"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testRules() models.Rules {
	r := models.DefaultRules()
	r.SupersededRoleIDs = []string{oldRoleHigh, oldRoleLow}
	return r
}

// memStore is an in-memory Store keeping insertion order.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.UserRecord
	order   []string
	getErr  error
	listErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.UserRecord)}
}

func (s *memStore) ensure(userID string) *models.UserRecord {
	rec, ok := s.records[userID]
	if !ok {
		rec = &models.UserRecord{UserID: userID}
		s.records[userID] = rec
		s.order = append(s.order, userID)
	}
	return rec
}

func (s *memStore) put(rec models.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.ensure(rec.UserID) = rec
}

func (s *memStore) record(userID string) *models.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (s *memStore) Get(ctx context.Context, userID string) (*models.UserRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.record(userID), nil
}

func (s *memStore) UpsertIncrement(ctx context.Context, userID string, counter models.Counter, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(userID)
	switch counter {
	case models.CounterMessages:
		rec.Messages += delta
		rec.PeriodMessages += delta
	case models.CounterVoiceTime:
		rec.VoiceTime += delta
		rec.PeriodVoiceTime += delta
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	return nil
}

func (s *memStore) SetFields(ctx context.Context, userID string, u models.FieldUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(userID)
	switch {
	case u.ClearTimer:
		rec.TimerStart = nil
	case u.TimerStart != nil:
		t := *u.TimerStart
		rec.TimerStart = &t
	}
	if u.PrevRoleID != nil {
		rec.PrevRoleID = *u.PrevRoleID
	}
	if u.ResetPeriod || u.ResetCounters {
		rec.PeriodMessages, rec.PeriodVoiceTime = 0, 0
	}
	if u.ResetCounters {
		rec.Messages, rec.VoiceTime = 0, 0
	}
	return nil
}

func (s *memStore) ListTimed(ctx context.Context) ([]models.UserRecord, error) {
	all, err := s.List(ctx)
	var out []models.UserRecord
	for _, rec := range all {
		if rec.TimerStart != nil {
			out = append(out, rec)
		}
	}
	return out, err
}

func (s *memStore) List(ctx context.Context) ([]models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UserRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out, s.listErr
}

// fakeGuild records role mutations and applies them to its members.
type fakeGuild struct {
	mu        sync.Mutex
	members   map[string]*Member
	roles     map[string]bool
	calls     []string
	addErr    error
	removeErr error
	memberErr map[string]error
}

func newFakeGuild(roleIDs ...string) *fakeGuild {
	g := &fakeGuild{
		members:   make(map[string]*Member),
		roles:     make(map[string]bool),
		memberErr: make(map[string]error),
	}
	for _, id := range roleIDs {
		g.roles[id] = true
	}
	return g
}

func (g *fakeGuild) addMember(id string, roles ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[id] = &Member{ID: id, Name: "user-" + id, Roles: roles}
}

func (g *fakeGuild) rolesOf(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.members[id].Roles)
}

func (g *fakeGuild) mutations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.calls)
}

func (g *fakeGuild) Member(ctx context.Context, userID string) (*Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.memberErr[userID]; err != nil {
		return nil, err
	}
	m, ok := g.members[userID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	cp := *m
	cp.Roles = slices.Clone(m.Roles)
	return &cp, nil
}

func (g *fakeGuild) RoleExists(ctx context.Context, roleID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roles[roleID]
}

func (g *fakeGuild) AddRole(ctx context.Context, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.addErr != nil {
		return g.addErr
	}
	m, ok := g.members[userID]
	if !ok {
		return ErrMemberNotFound
	}
	g.calls = append(g.calls, "add:"+userID+":"+roleID)
	if !slices.Contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (g *fakeGuild) RemoveRole(ctx context.Context, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removeErr != nil {
		return g.removeErr
	}
	m, ok := g.members[userID]
	if !ok {
		return ErrMemberNotFound
	}
	g.calls = append(g.calls, "remove:"+userID+":"+roleID)
	m.Roles = slices.DeleteFunc(m.Roles, func(r string) bool { return r == roleID })
	return nil
}

var errForbidden = errors.New("403 missing permissions")

func newTestEngine(store Store, guild Guild, rules models.Rules) *Engine {
	e := NewEngine(store, guild, rules)
	e.now = func() time.Time { return testNow }
	return e
}
