package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"activitybot/internal/activity"
	"activitybot/internal/config"
)

// Bot represents the Discord bot
type Bot struct {
	session  *discordgo.Session
	cfg      *config.Config
	store    activity.Store
	guild    *guildAdapter
	counters *activity.Counters
	engine   *activity.Engine
	sweeper  *activity.Sweeper
	voice    *activity.VoiceTracker
	log      *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	sweepOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new Discord bot
func New(cfg *config.Config, store activity.Store) (*Bot, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	guild := newGuildAdapter(session, cfg.GuildID)
	counters := activity.NewCounters(store, cfg.Rules)
	engine := activity.NewEngine(store, guild, cfg.Rules)

	bot := &Bot{
		session:  session,
		cfg:      cfg,
		store:    store,
		guild:    guild,
		counters: counters,
		engine:   engine,
		sweeper:  activity.NewSweeper(store, guild, cfg.Rules),
		voice:    activity.NewVoiceTracker(counters, engine, cfg.Rules),
		log:      slog.Default().With(slog.String("component", "discord")),
		ctx:      context.Background(),
	}

	// Add event handlers
	session.AddHandler(bot.ready)
	session.AddHandler(bot.guildCreate)
	session.AddHandler(bot.voiceStateUpdate)
	session.AddHandler(bot.messageCreate)

	return bot, nil
}

// Start opens the gateway connection. Background work stops when ctx is
// cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	if err := b.session.Open(); err != nil {
		b.cancel()
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	b.log.Info("bot is running")
	return nil
}

// Stop ends voice sessions and the sweeper, then closes the gateway.
func (b *Bot) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.voice.StopAll()
	b.wg.Wait()
	return b.session.Close()
}

// Connected reports whether the gateway session is ready.
func (b *Bot) Connected() bool {
	return b.session.DataReady
}

// VoiceSessions returns the number of tracked voice sessions.
func (b *Bot) VoiceSessions() int {
	return b.voice.Active()
}

// ready resolves the guild when none was configured.
func (b *Bot) ready(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("connected", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))
	if b.guild.ID() == "" && len(r.Guilds) > 0 {
		b.guild.setID(r.Guilds[0].ID)
	}
}

// guildCreate syncs voice sessions with the members currently in voice and
// starts the decay sweeper once the guild is available. It also runs after a
// reconnect, so sessions for members who left meanwhile are ended here.
func (b *Bot) guildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if b.guild.ID() == "" {
		b.guild.setID(g.ID)
	}
	if g.ID != b.guild.ID() {
		return
	}

	inVoice := make(map[string]bool, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		if b.isBot(vs.UserID, vs.Member) {
			continue
		}
		name := b.channelName(vs.ChannelID)
		if !b.voice.Eligible(vs.ChannelID, name) {
			continue
		}
		b.voice.Join(b.ctx, vs.UserID, vs.ChannelID)
		inVoice[vs.UserID] = true
	}

	ended := 0
	for _, userID := range b.voice.Tracked() {
		if !inVoice[userID] {
			b.voice.Leave(userID)
			ended++
		}
	}
	b.log.Info("guild available", slog.String("guild_id", g.ID),
		slog.Int("voice_sessions", len(inVoice)), slog.Int("stale_sessions_ended", ended))

	b.sweepOnce.Do(func() {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.sweeper.Start(b.ctx)
		}()
	})
}

// voiceStateUpdate handles voice state updates
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.GuildID != b.guild.ID() || b.isBot(vs.UserID, vs.Member) {
		return
	}
	b.voice.Update(b.ctx, vs.UserID, vs.ChannelID, b.channelName(vs.ChannelID))
}

// messageCreate handles message creation events
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" || m.GuildID != b.guild.ID() {
		return
	}

	content := strings.TrimSpace(m.Content)
	if b.counters.IsCommand(content) {
		b.handleCommand(s, m, content)
		return
	}

	counted, err := b.counters.RecordMessage(b.ctx, activity.Message{
		AuthorID:    m.Author.ID,
		Content:     m.Content,
		Attachments: len(m.Attachments),
		Stickers:    len(m.StickerItems),
		Embeds:      len(m.Embeds),
	})
	if err != nil {
		b.log.Error("count message failed", slog.String("user_id", m.Author.ID), slog.Any("err", err))
		return
	}
	if !counted {
		return
	}
	if _, err := b.engine.Evaluate(b.ctx, m.Author.ID); err != nil {
		b.log.Warn("role evaluation failed", slog.String("user_id", m.Author.ID), slog.Any("err", err))
	}
}

func (b *Bot) isBot(userID string, member *discordgo.Member) bool {
	if member != nil && member.User != nil {
		return member.User.Bot
	}
	m, err := b.guild.Member(b.ctx, userID)
	return err == nil && m.Bot
}

func (b *Bot) channelName(channelID string) string {
	if channelID == "" {
		return ""
	}
	ch, err := b.session.State.Channel(channelID)
	if err != nil {
		ch, err = b.session.Channel(channelID, discordgo.WithContext(b.ctx))
		if err != nil {
			b.log.Warn("channel lookup failed", slog.String("channel_id", channelID), slog.Any("err", err))
			return ""
		}
	}
	return ch.Name
}
