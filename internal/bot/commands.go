package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gatewarden/gatewarden/internal/guard"
	"github.com/gatewarden/gatewarden/internal/setup/config"
	"github.com/gatewarden/gatewarden/internal/whitelist"
)

// debugLogLines is how many recent log lines /debug includes.
const debugLogLines = 20

// Message is an inbound text command, normalized at the platform
// boundary.
type Message struct {
	// Canonical ID of the author.
	AuthorID string
	// Chat the message arrived in; replies go back there.
	ChatID string
	// Raw message text.
	Text string
	// Canonical ID of the author of the replied-to message, empty when
	// the message is not a reply.
	ReplyToAuthorID string
}

// Commands translates administrative text commands into store mutations
// and runtime-toggle changes. Every command except /start and /help is
// restricted to the single configured admin.
type Commands struct {
	store      *whitelist.Store
	engine     *guard.Engine
	transport  guard.Transport
	settings   *config.RuntimeSettings
	cfg        *config.Config
	recentLogs func(int) []string
	startTime  time.Time
	logger     *zap.Logger
}

// NewCommands creates the command surface. recentLogs supplies the
// in-memory log tail for /debug and may be nil.
func NewCommands(
	cfg *config.Config,
	store *whitelist.Store,
	engine *guard.Engine,
	transport guard.Transport,
	settings *config.RuntimeSettings,
	recentLogs func(int) []string,
	logger *zap.Logger,
) *Commands {
	if recentLogs == nil {
		recentLogs = func(int) []string { return nil }
	}

	return &Commands{
		store:      store,
		engine:     engine,
		transport:  transport,
		settings:   settings,
		cfg:        cfg,
		recentLogs: recentLogs,
		startTime:  time.Now(),
		logger:     logger.Named("commands"),
	}
}

// Handle dispatches one inbound message. Non-command text is ignored.
func (c *Commands) Handle(ctx context.Context, msg Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}

	command := strings.ToLower(fields[0])

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch command {
	case "/start":
		c.handleStart(ctx, msg)
	case "/help":
		c.reply(ctx, msg, c.cfg.Messages.Help)
	case "/status":
		c.adminOnly(ctx, msg, c.handleStatus)
	case "/whitelist":
		c.adminOnly(ctx, msg, c.handleWhitelist)
	case "/add":
		c.adminOnly(ctx, msg, func(ctx context.Context, msg Message) {
			c.handleAdd(ctx, msg, arg)
		})
	case "/remove":
		c.adminOnly(ctx, msg, func(ctx context.Context, msg Message) {
			c.handleRemove(ctx, msg, arg)
		})
	case "/checkpermissions":
		c.adminOnly(ctx, msg, c.handleCheckPermissions)
	case "/silent":
		c.adminOnly(ctx, msg, func(ctx context.Context, msg Message) {
			c.handleSilent(ctx, msg, arg)
		})
	case "/testmode":
		c.adminOnly(ctx, msg, func(ctx context.Context, msg Message) {
			c.handleTestMode(ctx, msg, arg)
		})
	case "/debug":
		c.adminOnly(ctx, msg, c.handleDebug)
	}
}

// adminOnly rejects the command with the configured message unless the
// author is the single admin identifier.
func (c *Commands) adminOnly(ctx context.Context, msg Message, next func(context.Context, Message)) {
	if msg.AuthorID != c.cfg.Bot.AdminUserID {
		c.logger.Warn("Rejected admin command from non-admin",
			zap.String("user", msg.AuthorID))
		c.reply(ctx, msg, c.cfg.Messages.NotAdmin)

		return
	}

	next(ctx, msg)
}

func (c *Commands) handleStart(ctx context.Context, msg Message) {
	c.logger.Info("Start command", zap.String("user", msg.AuthorID))

	text := "Membership gatekeeper\n\n" +
		"This bot manages access to the group by maintaining a whitelist of approved users.\n\n"
	if msg.AuthorID == c.cfg.Bot.AdminUserID {
		text += "Admin commands available.\n\n"
	}

	c.reply(ctx, msg, text+c.cfg.Messages.Help)
}

func (c *Commands) handleStatus(ctx context.Context, msg Message) {
	st := c.settings.Snapshot()
	uptime := time.Since(c.startTime).Round(time.Second)

	c.reply(ctx, msg, fmt.Sprintf(
		"Bot status\n\n"+
			"Auto-kick: %s\n"+
			"Silent mode: %s\n"+
			"Whitelist size: %d users\n"+
			"Monitoring group: %s\n"+
			"Uptime: %s\n\n"+
			"Data files:\n"+
			"Whitelist: %s",
		onOff(st.AutoKickEnabled),
		onOff(st.SilentMode),
		c.store.Size(),
		c.cfg.Bot.GroupID,
		uptime,
		c.store.Path()))
}

func (c *Commands) handleWhitelist(ctx context.Context, msg Message) {
	users := c.store.List()
	if len(users) == 0 {
		c.reply(ctx, msg, "Whitelist is empty")
		return
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Current whitelist (%d users):\n\n", len(users))

	for i, id := range users {
		fmt.Fprintf(&b, "%d. %s\n", i+1, id)
	}

	c.reply(ctx, msg, b.String())
}

func (c *Commands) handleAdd(ctx context.Context, msg Message, arg string) {
	targetID, ok := c.resolveTarget(ctx, msg, arg)
	if !ok {
		c.reply(ctx, msg, "Usage: /add @handle or /add user_id or reply to a message with /add")
		return
	}

	if c.store.Add(targetID) {
		c.logger.Info("Added user to whitelist", zap.String("user", targetID))
		c.reply(ctx, msg, fmt.Sprintf("%s\nUser ID: %s", c.cfg.Messages.Added, targetID))

		return
	}

	c.reply(ctx, msg, fmt.Sprintf("User %s is already on the whitelist", targetID))
}

func (c *Commands) handleRemove(ctx context.Context, msg Message, arg string) {
	targetID, ok := c.resolveTarget(ctx, msg, arg)
	if !ok {
		c.reply(ctx, msg, "Usage: /remove @handle or /remove user_id or reply to a message with /remove")
		return
	}

	if c.store.Remove(targetID) {
		c.logger.Info("Removed user from whitelist", zap.String("user", targetID))
		c.reply(ctx, msg, fmt.Sprintf("%s\nUser ID: %s", c.cfg.Messages.Removed, targetID))

		return
	}

	c.reply(ctx, msg, fmt.Sprintf("User %s is not on the whitelist", targetID))
}

func (c *Commands) handleCheckPermissions(ctx context.Context, msg Message) {
	record, err := c.transport.OwnMembershipRecord(ctx, c.cfg.Bot.GroupID)
	if err != nil {
		c.logger.Error("Error checking permissions", zap.Error(err))
		c.reply(ctx, msg, fmt.Sprintf(
			"Error checking permissions: %v\n\nMake sure the bot is added to the group as an administrator.", err))

		return
	}

	verdict := "Missing required permissions"
	if record.CanModerate() {
		verdict = "Ready to protect group"
	}

	text := fmt.Sprintf(
		"Bot permissions check\n\n"+
			"Group: %s\n"+
			"Bot status: %s\n\n"+
			"Can restrict members (kick/ban): %s\n"+
			"Can delete messages: %s\n"+
			"Can invite users: %s\n"+
			"Can promote members: %s\n\n"+
			"%s",
		c.cfg.Bot.GroupID,
		record.Status,
		yesNo(record.CanRestrictMembers),
		yesNo(record.CanDeleteMessages),
		yesNo(record.CanInviteUsers),
		yesNo(record.CanPromoteMembers),
		verdict)

	if record.Status != guard.StatusAdministrator {
		text += "\nBot must be added as administrator"
	}

	if !record.CanRestrictMembers {
		text += "\nBot needs the restrict-members permission"
	}

	c.reply(ctx, msg, text)
}

func (c *Commands) handleSilent(ctx context.Context, msg Message, arg string) {
	switch arg {
	case "":
		c.reply(ctx, msg, fmt.Sprintf("Silent mode is currently: %s\n\nUsage: /silent on|off",
			onOff(c.settings.SilentMode())))
	case "on", "off":
		on := arg == "on"
		c.settings.SetSilentMode(on)
		c.logger.Info("Silent mode changed by admin", zap.Bool("enabled", on))

		if on {
			c.reply(ctx, msg, "Silent mode ENABLED\n\nAll group messages are suppressed, "+
				"including welcome messages and kick announcements.")
		} else {
			c.reply(ctx, msg, "Silent mode DISABLED\n\nWelcome messages and kick announcements "+
				"stay off until re-enabled in the config.")
		}
	default:
		c.reply(ctx, msg, "Usage: /silent on|off")
	}
}

func (c *Commands) handleTestMode(ctx context.Context, msg Message, arg string) {
	switch arg {
	case "":
		c.reply(ctx, msg, fmt.Sprintf("Test mode is currently: %s\n\nUsage: /testmode on|off",
			onOff(c.settings.TestMode())))
	case "on", "off":
		on := arg == "on"
		c.settings.SetTestMode(on)
		c.store.SetVerboseLookups(on)
		c.logger.Info("Test mode changed by admin", zap.Bool("enabled", on))

		if on {
			c.reply(ctx, msg, "Test mode ENABLED\n\nEvery whitelist lookup is logged with the full set.")
		} else {
			c.reply(ctx, msg, "Test mode DISABLED\n\nNormal operation resumed.")
		}
	default:
		c.reply(ctx, msg, "Usage: /testmode on|off")
	}
}

func (c *Commands) handleDebug(ctx context.Context, msg Message) {
	st := c.settings.Snapshot()
	pending := c.engine.PendingReinstatements()

	var b strings.Builder

	b.WriteString("Runtime diagnostics\n\n")
	fmt.Fprintf(&b, "Auto-kick: %s\n", onOff(st.AutoKickEnabled))
	fmt.Fprintf(&b, "Allow bots: %s\n", onOff(st.AllowBots))
	fmt.Fprintf(&b, "Welcome messages: %s\n", onOff(st.SendWelcomeMessage))
	fmt.Fprintf(&b, "Kick announcements: %s\n", onOff(st.AnnounceKicks))
	fmt.Fprintf(&b, "Silent mode: %s\n", onOff(st.SilentMode))
	fmt.Fprintf(&b, "Notify admin on joins: %s\n", onOff(st.NotifyAdminOnly))
	fmt.Fprintf(&b, "Test mode: %s\n", onOff(st.TestMode))
	fmt.Fprintf(&b, "Whitelist: %s\n", c.store.Describe())

	if len(pending) > 0 {
		fmt.Fprintf(&b, "\nPending reinstatements (%d):\n", len(pending))

		for _, key := range pending {
			fmt.Fprintf(&b, "- %s\n", key)
		}
	}

	if lines := c.recentLogs(debugLogLines); len(lines) > 0 {
		fmt.Fprintf(&b, "\nRecent log lines:\n")

		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	c.reply(ctx, msg, b.String())
}

// resolveTarget applies the shared target resolution rule: the
// replied-to author wins over any supplied argument, then an @handle
// resolved through the transport, then a numeric literal.
func (c *Commands) resolveTarget(ctx context.Context, msg Message, arg string) (string, bool) {
	if msg.ReplyToAuthorID != "" {
		return msg.ReplyToAuthorID, true
	}

	if strings.HasPrefix(arg, "@") {
		id, err := c.transport.ResolveHandle(ctx, c.cfg.Bot.GroupID, arg)
		if err != nil {
			c.logger.Warn("Could not resolve handle",
				zap.String("handle", arg), zap.Error(err))

			return "", false
		}

		return id, true
	}

	if isNumericID(arg) {
		return arg, true
	}

	return "", false
}

// reply sends the response back into the originating chat. A failed
// reply never aborts the command's primary effect.
func (c *Commands) reply(ctx context.Context, msg Message, text string) {
	if err := c.transport.SendMessage(ctx, msg.ChatID, text); err != nil {
		c.logger.Warn("Could not send command reply",
			zap.String("chat", msg.ChatID), zap.Error(err))
	}
}

// isNumericID accepts an optional leading minus followed by digits.
func isNumericID(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func onOff(v bool) string {
	if v {
		return "ON"
	}

	return "OFF"
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}

	return "No"
}
