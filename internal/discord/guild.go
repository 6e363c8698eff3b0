package discord

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"activitybot/internal/activity"
)

// guildAdapter exposes one guild of the session to the activity rules,
// reading from the state cache first and falling back to REST.
type guildAdapter struct {
	session *discordgo.Session

	mu sync.RWMutex
	id string
}

func newGuildAdapter(session *discordgo.Session, guildID string) *guildAdapter {
	return &guildAdapter{session: session, id: guildID}
}

func (g *guildAdapter) ID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.id
}

func (g *guildAdapter) setID(id string) {
	g.mu.Lock()
	g.id = id
	g.mu.Unlock()
}

func (g *guildAdapter) Member(ctx context.Context, userID string) (*activity.Member, error) {
	guildID := g.ID()
	if guildID == "" {
		return nil, activity.ErrNoGuild
	}

	m, err := g.session.State.Member(guildID, userID)
	if err != nil {
		m, err = g.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			if isUnknown(err, discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser) {
				return nil, activity.ErrMemberNotFound
			}
			return nil, err
		}
	}
	return toMember(m), nil
}

func (g *guildAdapter) RoleExists(ctx context.Context, roleID string) bool {
	guildID := g.ID()
	if guildID == "" || roleID == "" {
		return false
	}
	if _, err := g.session.State.Role(guildID, roleID); err == nil {
		return true
	}
	roles, err := g.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return false
	}
	return slices.ContainsFunc(roles, func(r *discordgo.Role) bool { return r.ID == roleID })
}

func (g *guildAdapter) AddRole(ctx context.Context, userID, roleID string) error {
	guildID := g.ID()
	if guildID == "" {
		return activity.ErrNoGuild
	}
	if err := g.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return err
	}
	g.updateCachedRoles(guildID, userID, func(roles []string) []string {
		if slices.Contains(roles, roleID) {
			return roles
		}
		return append(roles, roleID)
	})
	return nil
}

func (g *guildAdapter) RemoveRole(ctx context.Context, userID, roleID string) error {
	guildID := g.ID()
	if guildID == "" {
		return activity.ErrNoGuild
	}
	if err := g.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return err
	}
	g.updateCachedRoles(guildID, userID, func(roles []string) []string {
		return slices.DeleteFunc(roles, func(r string) bool { return r == roleID })
	})
	return nil
}

// updateCachedRoles applies a successful role change to the state cache so
// reads before the GUILD_MEMBER_UPDATE event see it.
func (g *guildAdapter) updateCachedRoles(guildID, userID string, apply func([]string) []string) {
	cached, err := g.session.State.Member(guildID, userID)
	if err != nil {
		return
	}
	m := *cached
	m.GuildID = guildID
	m.Roles = apply(slices.Clone(cached.Roles))
	_ = g.session.State.MemberAdd(&m)
}

func toMember(m *discordgo.Member) *activity.Member {
	out := &activity.Member{Roles: slices.Clone(m.Roles)}
	if m.User != nil {
		out.ID = m.User.ID
		out.Bot = m.User.Bot
		out.Name = m.DisplayName()
	}
	return out
}

// isUnknown reports whether err is a REST 404 or one of the given
// "unknown entity" error codes.
func isUnknown(err error, codes ...int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && slices.Contains(codes, restErr.Message.Code) {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
