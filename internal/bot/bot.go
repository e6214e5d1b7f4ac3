// Package bot wires the Discord gateway to the admission engine and the
// command surface, and adapts the platform API to the guard.Transport
// interface.
package bot

import (
	"context"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"go.uber.org/zap"

	"github.com/gatewarden/gatewarden/internal/guard"
	"github.com/gatewarden/gatewarden/internal/setup/config"
	"github.com/gatewarden/gatewarden/internal/whitelist"
)

// handlerTimeout bounds the work done for a single gateway event.
const handlerTimeout = 2 * time.Minute

// Bot owns the gateway connection, the admission engine and the command
// surface.
type Bot struct {
	client    bot.Client
	transport *discordTransport
	engine    *guard.Engine
	commands  *Commands
	cfg       *config.Config
	logger    *zap.Logger
}

// New configures the gateway client with the intents and listeners the
// gatekeeper needs and builds the engine and command surface on top of
// it.
func New(
	cfg *config.Config,
	store *whitelist.Store,
	settings *config.RuntimeSettings,
	recentLogs func(int) []string,
	logger *zap.Logger,
) (*Bot, error) {
	b := &Bot{
		cfg:    cfg,
		logger: logger.Named("bot"),
	}

	client, err := disgo.New(cfg.Bot.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildMessages,
				gateway.IntentDirectMessages,
				gateway.IntentMessageContent,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnReady:             b.handleReady,
			OnGuildMemberJoin:   b.handleMemberJoin,
			OnGuildMemberUpdate: b.handleMemberUpdate,
			OnMessageCreate:     b.handleMessageCreate,
		}),
	)
	if err != nil {
		return nil, err
	}

	b.client = client
	b.transport = newDiscordTransport(client, logger)
	b.engine = guard.NewEngine(cfg, store, b.transport, settings, logger)
	b.commands = NewCommands(cfg, store, b.engine, b.transport, settings, recentLogs, logger)

	return b, nil
}

// Start opens the gateway connection.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot")
	return b.client.OpenGateway(ctx)
}

// Close shuts the gateway down, then waits for any scheduled
// reinstatements so a kicked user is not left banned by a restart.
func (b *Bot) Close(ctx context.Context) {
	b.logger.Info("Closing bot")
	b.client.Close(ctx)
	b.engine.Wait()
}

// handleReady runs the startup permission probe once the gateway is up.
func (b *Bot) handleReady(event *events.Ready) {
	b.logger.Info("Gateway ready", zap.String("user", event.User.Username))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		b.engine.StartupCheck(ctx)
	}()
}

// handleMemberJoin forwards a join to the engine. A member that arrives
// with roles already assigned was placed there by an administrator or
// integration, so it is routed through the status-change path where a
// direct administrator grant skips the authorization check.
func (b *Bot) handleMemberJoin(event *events.GuildMemberJoin) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		groupID := event.GuildID.String()
		member := memberFromDiscord(event.Member)

		if len(event.Member.RoleIDs) > 0 {
			b.engine.HandleStatusChange(ctx, guard.StatusChangeEvent{
				GroupID:   groupID,
				Member:    member,
				OldStatus: guard.StatusLeft,
				NewStatus: b.transport.memberStatus(ctx, event.GuildID, event.Member),
			})

			return
		}

		b.engine.HandleJoin(ctx, guard.JoinEvent{
			GroupID: groupID,
			Members: []guard.Member{member},
		})
	}()
}

// handleMemberUpdate synthesizes a status-change event from a member
// update when the member's status actually changed.
func (b *Bot) handleMemberUpdate(event *events.GuildMemberUpdate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		oldStatus := b.transport.memberStatus(ctx, event.GuildID, event.OldMember)
		newStatus := b.transport.memberStatus(ctx, event.GuildID, event.Member)

		if oldStatus == newStatus {
			return
		}

		b.engine.HandleStatusChange(ctx, guard.StatusChangeEvent{
			GroupID:   event.GuildID.String(),
			Member:    memberFromDiscord(event.Member),
			OldStatus: oldStatus,
			NewStatus: newStatus,
		})
	}()
}

// handleMessageCreate normalizes a message and hands it to the command
// surface. Messages from other automated accounts are ignored.
func (b *Bot) handleMessageCreate(event *events.MessageCreate) {
	if event.Message.Author.Bot {
		return
	}

	msg := Message{
		AuthorID: event.Message.Author.ID.String(),
		ChatID:   event.ChannelID.String(),
		Text:     event.Message.Content,
	}

	if ref := event.Message.ReferencedMessage; ref != nil {
		msg.ReplyToAuthorID = ref.Author.ID.String()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		b.commands.Handle(ctx, msg)
	}()
}

// memberFromDiscord converts a platform member to the engine's view.
func memberFromDiscord(m discord.Member) guard.Member {
	return guard.Member{
		ID:          m.User.ID.String(),
		DisplayName: m.EffectiveName(),
		Handle:      m.User.Username,
		IsBot:       m.User.Bot,
	}
}
