// Package guard implements the admission decision engine: given a
// membership event for the monitored group, it allows, denies or skips
// the joining user, and on denial drives the removal-and-timed-
// reinstatement sequence.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/gatewarden/gatewarden/internal/setup/config"
	"github.com/gatewarden/gatewarden/internal/whitelist"
	"github.com/gatewarden/gatewarden/pkg/utils"
)

// KickReason is the reason attached to removal notifications.
const KickReason = "Not on whitelist"

// unbanCallTimeout bounds the deferred unban call; the platform client
// enforces its own timeouts, this is only a safety net for the detached
// goroutine.
const unbanCallTimeout = 30 * time.Second

// Engine decides admission for membership events and executes the
// removal sequence for unauthorized joiners.
type Engine struct {
	store      *whitelist.Store
	transport  Transport
	settings   *config.RuntimeSettings
	messages   *config.Messages
	adminID    string
	groupID    string
	unbanDelay time.Duration
	logger     *zap.Logger

	wg      conc.WaitGroup
	mu      sync.Mutex
	pending map[string]struct{}

	// sleep is replaced in tests to avoid waiting out real delays.
	sleep func(time.Duration)
}

// NewEngine creates the admission engine.
func NewEngine(
	cfg *config.Config,
	store *whitelist.Store,
	transport Transport,
	settings *config.RuntimeSettings,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:      store,
		transport:  transport,
		settings:   settings,
		messages:   &cfg.Messages,
		adminID:    cfg.Bot.AdminUserID,
		groupID:    cfg.Bot.GroupID,
		unbanDelay: time.Duration(cfg.Moderation.UnbanDelay) * time.Millisecond,
		logger:     logger.Named("guard"),
		pending:    make(map[string]struct{}),
		sleep:      time.Sleep,
	}
}

// HandleJoin processes a new-members event. Members are handled
// sequentially in delivered order.
func (e *Engine) HandleJoin(ctx context.Context, ev JoinEvent) {
	if ev.GroupID != e.groupID {
		e.logger.Debug("Ignoring join event from different group",
			zap.String("group", ev.GroupID))

		return
	}

	e.logger.Info("New member event in monitored group",
		zap.String("group", ev.GroupID), zap.Int("members", len(ev.Members)))

	for _, m := range ev.Members {
		e.admit(ctx, ev, m, "Automatically kicked user")
	}
}

// HandleStatusChange processes a membership status transition. Only
// not-a-member to member/administrator transitions are admission
// decisions; an account promoted directly to administrator is trusted
// by construction and skips the authorization check.
func (e *Engine) HandleStatusChange(ctx context.Context, ev StatusChangeEvent) {
	if ev.GroupID != e.groupID {
		return
	}

	if ev.OldStatus != StatusLeft ||
		(ev.NewStatus != StatusMember && ev.NewStatus != StatusAdministrator) {
		e.logger.Debug("Ignoring status transition",
			zap.String("user", ev.Member.Info()),
			zap.String("old", ev.OldStatus),
			zap.String("new", ev.NewStatus))

		return
	}

	e.logger.Info("User added to group",
		zap.String("user", ev.Member.Info()), zap.String("status", ev.NewStatus))

	if ev.NewStatus == StatusAdministrator {
		e.logger.Info("Administrator joined, skipping whitelist check",
			zap.String("user", ev.Member.Info()))

		return
	}

	join := JoinEvent{GroupID: ev.GroupID, GroupName: ev.GroupName}
	e.admit(ctx, join, ev.Member, "Kicked user added by admin")
}

// admit runs the terminal branch sequence for one member: bot filter,
// authorization check, then either the welcome path or the removal path.
func (e *Engine) admit(ctx context.Context, ev JoinEvent, m Member, headline string) {
	st := e.settings.Snapshot()

	if m.IsBot && !st.AllowBots {
		e.logger.Info("Skipping bot", zap.String("user", m.Info()))
		return
	}

	label := groupLabel(ev)

	if e.store.Contains(m.ID) {
		e.logger.Info("Whitelisted user joined", zap.String("user", m.Info()))

		if st.SendWelcomeMessage && !st.SilentMode {
			text := fmt.Sprintf("%s\nWelcome %s!", e.messages.Welcome, m.DisplayName)
			if err := e.transport.SendGroupMessage(ctx, ev.GroupID, text); err != nil {
				e.logger.Warn("Could not send welcome message", zap.Error(err))
			}
		}

		if st.NotifyAdminOnly {
			e.notifyAdmin(ctx, fmt.Sprintf("Whitelisted user joined:\n%s\nGroup: %s", m.Info(), label))
		}

		return
	}

	e.logger.Warn("Non-whitelisted user joined", zap.String("user", m.Info()))

	if !st.AutoKickEnabled {
		e.notifyAdmin(ctx, fmt.Sprintf(
			"Non-whitelisted user joined (auto-kick disabled):\n%s\nGroup: %s", m.Info(), label))

		return
	}

	e.removeMember(ctx, ev, m, st, headline)
}

// removeMember executes the removal sequence: permission pre-check, ban,
// optional announcement, scheduled reinstatement and admin notification.
// Any failure is reported to the admin as the primary outcome and no
// reinstatement is scheduled.
func (e *Engine) removeMember(
	ctx context.Context, ev JoinEvent, m Member, st config.ModerationState, headline string,
) {
	label := groupLabel(ev)

	// The pre-check races permission revocation, so a ban failure below
	// is handled identically even when the pre-check passed.
	record, err := e.transport.OwnMembershipRecord(ctx, ev.GroupID)
	if err != nil {
		e.reportRemovalFailure(ctx, m, fmt.Errorf("permission check failed: %w", err))
		return
	}

	if !record.CanModerate() {
		e.logger.Error("Bot does not have admin permissions to kick members",
			zap.String("status", record.Status),
			zap.Bool("can_restrict_members", record.CanRestrictMembers))
		e.notifyAdmin(ctx, fmt.Sprintf(
			"CRITICAL: Bot lacks admin permissions in group %s!\nCannot kick user: %s\n\n"+
				"Please add the bot as administrator with the restrict-members permission.",
			label, m.Info()))

		return
	}

	if err := e.transport.BanMember(ctx, ev.GroupID, m.ID, KickReason); err != nil {
		e.logger.Error("Failed to kick user", zap.String("user", m.Info()), zap.Error(err))
		e.reportRemovalFailure(ctx, m, err)

		return
	}

	e.logger.Info("Kicked non-whitelisted user", zap.String("user", m.Info()))

	if st.AnnounceKicks && !st.SilentMode {
		text := fmt.Sprintf("User %s was removed (not authorized)", m.DisplayName)
		if err := e.transport.SendGroupMessage(ctx, ev.GroupID, text); err != nil {
			e.logger.Warn("Could not send kick notification", zap.Error(err))
		}
	}

	e.scheduleReinstatement(ev.GroupID, m)

	e.notifyAdmin(ctx, fmt.Sprintf("%s:\n%s\n\nReason: %s\nGroup: %s\nTime: %s",
		headline, m.Info(), KickReason, label, time.Now().UTC().Format(time.RFC3339)))
}

// reportRemovalFailure notifies the admin that the removal sequence
// failed, with the cause. No reinstatement is scheduled on this path.
func (e *Engine) reportRemovalFailure(ctx context.Context, m Member, cause error) {
	e.notifyAdmin(ctx, fmt.Sprintf(
		"CRITICAL ERROR: Failed to kick user!\n%s\nError: %v\n\nPlease check bot permissions!",
		m.Info(), cause))
}

// scheduleReinstatement unbans the user after the configured delay so
// they can rejoin once authorized. Tasks are keyed by (group, user); a
// second removal while an unban is already pending does not schedule a
// duplicate. The outcome is logged independently and never re-opens the
// removal report.
func (e *Engine) scheduleReinstatement(groupID string, m Member) {
	key := groupID + "/" + m.ID

	e.mu.Lock()
	if _, ok := e.pending[key]; ok {
		e.mu.Unlock()
		e.logger.Debug("Reinstatement already pending", zap.String("key", key))

		return
	}

	e.pending[key] = struct{}{}
	e.mu.Unlock()

	e.wg.Go(func() {
		defer func() {
			e.mu.Lock()
			delete(e.pending, key)
			e.mu.Unlock()
		}()

		e.sleep(e.unbanDelay)

		ctx, cancel := context.WithTimeout(context.Background(), unbanCallTimeout)
		defer cancel()

		if err := e.transport.UnbanMember(ctx, groupID, m.ID); err != nil {
			e.logger.Warn("Could not unban user", zap.String("user", m.Info()), zap.Error(err))
			return
		}

		e.logger.Info("Unbanned user", zap.String("user", m.Info()))
	})
}

// PendingReinstatements returns the keys of unbans not yet executed.
func (e *Engine) PendingReinstatements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]string, 0, len(e.pending))
	for k := range e.pending {
		keys = append(keys, k)
	}

	return keys
}

// Wait blocks until all scheduled reinstatements have run. Called on
// shutdown after the gateway has stopped delivering events.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// StartupCheck verifies the bot's own permissions in the monitored group
// once the gateway is ready, logging the verdict and alerting the admin
// when moderation cannot work.
func (e *Engine) StartupCheck(ctx context.Context) {
	e.logger.Info("Membership gatekeeper started",
		zap.Int("whitelist_size", e.store.Size()),
		zap.Bool("auto_kick_enabled", e.settings.Snapshot().AutoKickEnabled))

	record, err := utils.WithRetry(ctx, func() (MembershipRecord, error) {
		return e.transport.OwnMembershipRecord(ctx, e.groupID)
	}, utils.ProbeRetryOptions())
	if err != nil {
		e.logger.Error("Error checking bot permissions on startup", zap.Error(err))
		e.notifyAdmin(ctx, fmt.Sprintf(
			"Could not verify bot permissions in group %s\n\nError: %v\n\n"+
				"Please ensure the bot is added to the group.", e.groupID, err))

		return
	}

	if record.CanModerate() {
		e.logger.Info("Bot has proper admin permissions in target group")
		return
	}

	e.logger.Error("Bot lacks required permissions",
		zap.String("status", record.Status),
		zap.Bool("can_restrict_members", record.CanRestrictMembers))
	e.notifyAdmin(ctx, fmt.Sprintf(
		"CRITICAL ERROR: Bot lacks admin permissions!\n\nStatus: %s\nCan kick members: %s\n\n"+
			"Please add the bot as administrator with the restrict-members permission in the target group.",
		record.Status, yesNo(record.CanRestrictMembers)))
}

// notifyAdmin delivers text to the configured admin with a bounded
// retry. A notification that still cannot be delivered is logged and
// dropped; it never aborts the decision that produced it.
func (e *Engine) notifyAdmin(ctx context.Context, text string) {
	err := utils.WithRetryVoid(ctx, func() error {
		return e.transport.SendAdminMessage(ctx, e.adminID, text)
	}, utils.NotifyRetryOptions())
	if err != nil {
		e.logger.Warn("Could not notify admin", zap.Error(err))
	}
}

func groupLabel(ev JoinEvent) string {
	if ev.GroupName != "" {
		return ev.GroupName
	}

	return ev.GroupID
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}

	return "No"
}
