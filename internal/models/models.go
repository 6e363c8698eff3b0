package models

import (
	"slices"
	"time"
)

// UserRecord represents a user's activity row in the database
type UserRecord struct {
	UserID          string
	Messages        int64
	VoiceTime       int64 // seconds
	TimerStart      *time.Time
	PrevRoleID      string
	PeriodMessages  int64
	PeriodVoiceTime int64 // seconds
}

// TimerActive reports whether a decay window is running for the user.
func (r *UserRecord) TimerActive() bool {
	return r != nil && r.TimerStart != nil
}

// Counter names an incrementable counter of a UserRecord.
type Counter string

const (
	CounterMessages  Counter = "messages"
	CounterVoiceTime Counter = "voice_time"
)

// FieldUpdate describes a partial update of a UserRecord. Zero values leave
// the corresponding column untouched.
type FieldUpdate struct {
	TimerStart    *time.Time
	ClearTimer    bool
	PrevRoleID    *string
	ResetPeriod   bool
	ResetCounters bool
}

// Empty reports whether the update changes nothing.
func (u FieldUpdate) Empty() bool {
	return u.TimerStart == nil && !u.ClearTimer && u.PrevRoleID == nil && !u.ResetPeriod && !u.ResetCounters
}

// VoiceSession represents a user's tracked voice channel session
type VoiceSession struct {
	Start     time.Time
	ChannelID string
}

// Action is the outcome of a role evaluation.
type Action int

const (
	ActionNone Action = iota
	ActionExempt
	ActionPromote
	ActionStartTimer
)

func (a Action) String() string {
	switch a {
	case ActionExempt:
		return "exempt"
	case ActionPromote:
		return "promote"
	case ActionStartTimer:
		return "start_timer"
	default:
		return "none"
	}
}

// DecayPolicy selects which counters the sweeper compares once a decay
// window has elapsed.
type DecayPolicy string

const (
	// DecayLifetime compares lifetime counters and never restarts the window.
	DecayLifetime DecayPolicy = "lifetime"
	// DecayRolling compares counters accumulated since the window started and
	// opens a fresh window for users who stay active.
	DecayRolling DecayPolicy = "rolling"
)

// Valid reports whether p is a known policy.
func (p DecayPolicy) Valid() bool {
	return p == DecayLifetime || p == DecayRolling
}

// Thresholds is a pair of message and voice-time limits.
type Thresholds struct {
	Messages  int64
	VoiceTime time.Duration
}

// Rules is the immutable rule set shared by the counters, engine, sweeper and
// voice tracker.
type Rules struct {
	StatusRoleID          string
	SupersededRoleIDs     []string
	ProtectedRoleIDs      []string
	ExcludedChannel       string
	CommandPrefix         string
	Promote               Thresholds
	Inactive              Thresholds
	DecayWindow           time.Duration
	VoiceTick             time.Duration
	SweepInterval         time.Duration
	DecayPolicy           DecayPolicy
	ResetCountersOnRevoke bool
}

// DefaultRules returns the rule set the bot shipped with.
func DefaultRules() Rules {
	return Rules{
		StatusRoleID:      "1060759821856555119",
		SupersededRoleIDs: []string{"1379573779839189022", "1266456229945937983"},
		ProtectedRoleIDs: []string{
			"1279364611052802130",
			"1244606735780675657",
			"1060759139002896525",
			"1060755422006485075",
		},
		ExcludedChannel: "💤 | ᴀꜱᴋ",
		CommandPrefix:   "!",
		Promote:         Thresholds{Messages: 50, VoiceTime: 250 * time.Hour},
		Inactive:        Thresholds{Messages: 20, VoiceTime: 20 * time.Hour},
		DecayWindow:     15 * 24 * time.Hour,
		VoiceTick:       time.Minute,
		SweepInterval:   24 * time.Hour,
		DecayPolicy:     DecayLifetime,
	}
}

// IsProtected reports whether any of roles is in the protected set.
func (r Rules) IsProtected(roles []string) bool {
	for _, role := range roles {
		if slices.Contains(r.ProtectedRoleIDs, role) {
			return true
		}
	}
	return false
}

// HasStatus reports whether roles contains the status role.
func (r Rules) HasStatus(roles []string) bool {
	return r.StatusRoleID != "" && slices.Contains(roles, r.StatusRoleID)
}

// DecayWindowDays is the window length in whole days.
func (r Rules) DecayWindowDays() int {
	return int(r.DecayWindow / (24 * time.Hour))
}
