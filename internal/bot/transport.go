package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/gatewarden/gatewarden/internal/guard"
)

var (
	ErrSelfUserUnavailable = errors.New("self user not available yet")
	ErrNoGroupChannel      = errors.New("group has no system channel to post in")
	ErrHandleNotFound      = errors.New("no member matches the handle")
	ErrHandleAmbiguous     = errors.New("handle matches more than one member")
)

// discordTransport implements guard.Transport on top of the disgo REST
// client. DM and group channel lookups are cached per target.
type discordTransport struct {
	client bot.Client
	logger *zap.Logger

	mu            sync.Mutex
	dmChannels    map[snowflake.ID]snowflake.ID
	groupChannels map[snowflake.ID]snowflake.ID
}

func newDiscordTransport(client bot.Client, logger *zap.Logger) *discordTransport {
	return &discordTransport{
		client:        client,
		logger:        logger.Named("transport"),
		dmChannels:    make(map[snowflake.ID]snowflake.ID),
		groupChannels: make(map[snowflake.ID]snowflake.ID),
	}
}

// OwnMembershipRecord implements guard.Transport.
func (t *discordTransport) OwnMembershipRecord(ctx context.Context, groupID string) (guard.MembershipRecord, error) {
	self, ok := t.client.Caches().SelfUser()
	if !ok {
		return guard.MembershipRecord{}, ErrSelfUserUnavailable
	}

	return t.GetMembershipRecord(ctx, groupID, self.ID.String())
}

// GetMembershipRecord implements guard.Transport. The capability flags
// are computed from the union of the member's role permissions.
func (t *discordTransport) GetMembershipRecord(ctx context.Context, groupID, userID string) (guard.MembershipRecord, error) {
	gid, err := snowflake.Parse(groupID)
	if err != nil {
		return guard.MembershipRecord{}, fmt.Errorf("invalid group ID %q: %w", groupID, err)
	}

	uid, err := snowflake.Parse(userID)
	if err != nil {
		return guard.MembershipRecord{}, fmt.Errorf("invalid user ID %q: %w", userID, err)
	}

	member, err := t.client.Rest().GetMember(gid, uid, rest.WithCtx(ctx))
	if err != nil {
		return guard.MembershipRecord{}, fmt.Errorf("failed to fetch membership record: %w", err)
	}

	perms, err := t.memberPermissions(ctx, gid, member.RoleIDs)
	if err != nil {
		return guard.MembershipRecord{}, err
	}

	return recordFromPermissions(perms), nil
}

// memberPermissions unions the permissions of the given roles plus the
// @everyone role (whose ID equals the group ID).
func (t *discordTransport) memberPermissions(
	ctx context.Context, groupID snowflake.ID, roleIDs []snowflake.ID,
) (discord.Permissions, error) {
	roles, err := t.client.Rest().GetRoles(groupID, rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch group roles: %w", err)
	}

	var perms discord.Permissions

	for _, role := range roles {
		if role.ID == groupID || slices.Contains(roleIDs, role.ID) {
			perms = perms.Add(role.Permissions)
		}
	}

	return perms, nil
}

func recordFromPermissions(perms discord.Permissions) guard.MembershipRecord {
	admin := perms.Has(discord.PermissionAdministrator)

	status := guard.StatusMember
	if admin {
		status = guard.StatusAdministrator
	}

	return guard.MembershipRecord{
		Status:             status,
		CanRestrictMembers: admin || perms.Has(discord.PermissionBanMembers),
		CanDeleteMessages:  admin || perms.Has(discord.PermissionManageMessages),
		CanInviteUsers:     admin || perms.Has(discord.PermissionCreateInstantInvite),
		CanPromoteMembers:  admin || perms.Has(discord.PermissionManageRoles),
	}
}

// memberStatus classifies a member for status-change events. Lookup
// failures default to plain membership so an API hiccup can never
// promote anyone past the authorization check.
func (t *discordTransport) memberStatus(ctx context.Context, groupID snowflake.ID, member discord.Member) string {
	if len(member.RoleIDs) == 0 {
		return guard.StatusMember
	}

	perms, err := t.memberPermissions(ctx, groupID, member.RoleIDs)
	if err != nil {
		t.logger.Warn("Could not compute member permissions",
			zap.String("user", member.User.ID.String()), zap.Error(err))

		return guard.StatusMember
	}

	if perms.Has(discord.PermissionAdministrator) {
		return guard.StatusAdministrator
	}

	return guard.StatusMember
}

// SendGroupMessage implements guard.Transport. Messages go to the
// group's system channel.
func (t *discordTransport) SendGroupMessage(ctx context.Context, groupID, text string) error {
	gid, err := snowflake.Parse(groupID)
	if err != nil {
		return fmt.Errorf("invalid group ID %q: %w", groupID, err)
	}

	channelID, err := t.groupChannel(ctx, gid)
	if err != nil {
		return err
	}

	return t.send(ctx, channelID, text)
}

func (t *discordTransport) groupChannel(ctx context.Context, groupID snowflake.ID) (snowflake.ID, error) {
	t.mu.Lock()
	channelID, ok := t.groupChannels[groupID]
	t.mu.Unlock()

	if ok {
		return channelID, nil
	}

	guild, err := t.client.Rest().GetGuild(groupID, false, rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch group: %w", err)
	}

	if guild.SystemChannelID == nil {
		return 0, ErrNoGroupChannel
	}

	t.mu.Lock()
	t.groupChannels[groupID] = *guild.SystemChannelID
	t.mu.Unlock()

	return *guild.SystemChannelID, nil
}

// SendAdminMessage implements guard.Transport via a cached DM channel.
func (t *discordTransport) SendAdminMessage(ctx context.Context, userID, text string) error {
	uid, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user ID %q: %w", userID, err)
	}

	t.mu.Lock()
	channelID, ok := t.dmChannels[uid]
	t.mu.Unlock()

	if !ok {
		channel, err := t.client.Rest().CreateDMChannel(uid, rest.WithCtx(ctx))
		if err != nil {
			return fmt.Errorf("failed to open DM channel: %w", err)
		}

		channelID = channel.ID()

		t.mu.Lock()
		t.dmChannels[uid] = channelID
		t.mu.Unlock()
	}

	return t.send(ctx, channelID, text)
}

// SendMessage implements guard.Transport for command replies.
func (t *discordTransport) SendMessage(ctx context.Context, chatID, text string) error {
	cid, err := snowflake.Parse(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}

	return t.send(ctx, cid, text)
}

func (t *discordTransport) send(ctx context.Context, channelID snowflake.ID, text string) error {
	_, err := t.client.Rest().CreateMessage(channelID,
		discord.NewMessageCreateBuilder().SetContent(text).Build(),
		rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// BanMember implements guard.Transport.
func (t *discordTransport) BanMember(ctx context.Context, groupID, userID, reason string) error {
	gid, err := snowflake.Parse(groupID)
	if err != nil {
		return fmt.Errorf("invalid group ID %q: %w", groupID, err)
	}

	uid, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user ID %q: %w", userID, err)
	}

	if err := t.client.Rest().AddBan(gid, uid, 0, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return fmt.Errorf("failed to ban member: %w", err)
	}

	return nil
}

// UnbanMember implements guard.Transport.
func (t *discordTransport) UnbanMember(ctx context.Context, groupID, userID string) error {
	gid, err := snowflake.Parse(groupID)
	if err != nil {
		return fmt.Errorf("invalid group ID %q: %w", groupID, err)
	}

	uid, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user ID %q: %w", userID, err)
	}

	if err := t.client.Rest().DeleteBan(gid, uid, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to unban member: %w", err)
	}

	return nil
}

// ResolveHandle implements guard.Transport. Only an unambiguous exact
// username match resolves; anything else is a resolution failure so a
// lookalike handle can never be whitelisted by accident.
func (t *discordTransport) ResolveHandle(ctx context.Context, groupID, handle string) (string, error) {
	gid, err := snowflake.Parse(groupID)
	if err != nil {
		return "", fmt.Errorf("invalid group ID %q: %w", groupID, err)
	}

	handle = strings.TrimPrefix(handle, "@")

	members, err := t.client.Rest().SearchMembers(gid, handle, 10, rest.WithCtx(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to search members: %w", err)
	}

	var matches []discord.Member

	for _, member := range members {
		if strings.EqualFold(member.User.Username, handle) {
			matches = append(matches, member)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrHandleNotFound, handle)
	case 1:
		return matches[0].User.ID.String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrHandleAmbiguous, handle)
	}
}
