package discord

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"activitybot/internal/activity"
	"activitybot/internal/models"
	"activitybot/pkg/utils"
)

const (
	topSize       = 5
	genericFailed = "Something went wrong, please try again later."
)

// handleCommand dispatches prefix commands
func (b *Bot) handleCommand(s *discordgo.Session, m *discordgo.MessageCreate, content string) {
	fields := strings.Fields(strings.TrimPrefix(content, b.cfg.Rules.CommandPrefix))
	if len(fields) == 0 {
		return
	}

	var reply string
	switch strings.ToLower(fields[0]) {
	case "stats":
		reply = b.handleStatsCommand(m, fields[1:])
	case "check":
		reply = b.handleCheckCommand(m, fields[1:])
	case "top":
		reply = b.handleTopCommand()
	default:
		return
	}

	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.log.Warn("reply failed", slog.String("channel_id", m.ChannelID), slog.Any("err", err))
	}
}

// targetUser is the mentioned user, or the author when nobody is mentioned.
func targetUser(m *discordgo.MessageCreate, args []string) string {
	if len(args) > 0 {
		if id, ok := utils.ParseUserMention(args[0]); ok {
			return id
		}
	}
	if len(m.Mentions) > 0 {
		return m.Mentions[0].ID
	}
	return m.Author.ID
}

// handleStatsCommand handles the !stats command
func (b *Bot) handleStatsCommand(m *discordgo.MessageCreate, args []string) string {
	userID := targetUser(m, args)
	name := m.Author.Username
	if userID != m.Author.ID {
		member, err := b.guild.Member(b.ctx, userID)
		if err != nil {
			return "That user is not a member of this server."
		}
		name = member.Name
	}

	rec, err := b.store.Get(b.ctx, userID)
	if err != nil {
		b.log.Error("stats lookup failed", slog.String("user_id", userID), slog.Any("err", err))
		return genericFailed
	}
	return formatStats(name, rec)
}

// handleCheckCommand handles the !check command
func (b *Bot) handleCheckCommand(m *discordgo.MessageCreate, args []string) string {
	userID := targetUser(m, args)
	report, err := b.engine.Inspect(b.ctx, userID)
	if activity.IsMemberGone(err) {
		return "That user is not a member of this server."
	}
	if err != nil {
		b.log.Error("check failed", slog.String("user_id", userID), slog.Any("err", err))
		return genericFailed
	}
	return formatCheck(report, b.cfg.Rules)
}

// handleTopCommand handles the !top command
func (b *Bot) handleTopCommand() string {
	ranked, err := activity.Top(b.ctx, b.store, topSize)
	if err != nil {
		b.log.Error("leaderboard failed", slog.Any("err", err))
		return genericFailed
	}

	entries := make([]topEntry, 0, len(ranked))
	for i, r := range ranked {
		member, err := b.guild.Member(b.ctx, r.Record.UserID)
		if err != nil {
			// left the server; keeps its rank slot
			continue
		}
		entries = append(entries, topEntry{Rank: i + 1, Name: member.Name, Ranked: r})
	}
	return formatTop(entries)
}

func formatStats(name string, rec *models.UserRecord) string {
	if rec == nil {
		return fmt.Sprintf("No data for %s yet.", name)
	}
	return fmt.Sprintf("%s has %d messages and %s in voice.", name, rec.Messages, utils.FormatVoiceTime(rec.VoiceTime))
}

func formatCheck(r *activity.Report, rules models.Rules) string {
	name := r.Member.Name
	if r.Protected {
		return fmt.Sprintf("%s holds a protected role and is exempt from activity checks.", name)
	}
	if r.Record == nil {
		return fmt.Sprintf("No data for %s yet.", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Stats for %s:\n", name)
	fmt.Fprintf(&b, "- %d messages\n", r.Record.Messages)
	fmt.Fprintf(&b, "- %s in voice\n", utils.FormatVoiceTime(r.Record.VoiceTime))

	switch {
	case r.HasStatus && r.Record.TimerActive():
		fmt.Fprintf(&b, "- Days until the role is reviewed: %d\n", r.DaysLeft)
		fmt.Fprintf(&b, "- Needed per period: %d messages and %s in voice",
			rules.Inactive.Messages, utils.FormatHours(int64(rules.Inactive.VoiceTime.Seconds())))
	case r.HasStatus:
		b.WriteString("- Role is active, but no timer is running.")
	default:
		b.WriteString("- Activity role not earned yet, no timer running.")
	}
	return b.String()
}

type topEntry struct {
	Rank int
	Name string
	activity.Ranked
}

func formatTop(entries []topEntry) string {
	if len(entries) == 0 {
		return "No data for the leaderboard yet."
	}

	var b strings.Builder
	b.WriteString("**🏆 Top members:**\n")
	for _, e := range entries {
		details := fmt.Sprintf("%d messages, %s in voice (score: %d)",
			e.Record.Messages, utils.FormatVoiceTime(e.Record.VoiceTime), e.Score)
		b.WriteString(utils.FormatLeaderboardEntry(e.Rank, e.Name, details))
		b.WriteByte('\n')
	}
	return b.String()
}
