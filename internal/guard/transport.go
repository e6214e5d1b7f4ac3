package guard

import "context"

// Transport is the surface of the messaging platform the engine and the
// command surface consume. The disgo-backed implementation lives in the
// bot package; tests substitute a fake.
type Transport interface {
	// OwnMembershipRecord returns the bot's own membership record in the
	// given group.
	OwnMembershipRecord(ctx context.Context, groupID string) (MembershipRecord, error)

	// GetMembershipRecord returns the membership record of an arbitrary
	// user in the given group.
	GetMembershipRecord(ctx context.Context, groupID, userID string) (MembershipRecord, error)

	// SendGroupMessage posts text into the group's public channel.
	SendGroupMessage(ctx context.Context, groupID, text string) error

	// SendAdminMessage delivers text privately to the given user.
	SendAdminMessage(ctx context.Context, userID, text string) error

	// SendMessage posts text into an arbitrary chat, used for command
	// replies in whatever chat the command arrived in.
	SendMessage(ctx context.Context, chatID, text string) error

	// BanMember removes the user from the group and prevents rejoining
	// until unbanned.
	BanMember(ctx context.Context, groupID, userID, reason string) error

	// UnbanMember lifts a ban. It does not re-add group membership.
	// Unbanning a user who is not banned is not an error.
	UnbanMember(ctx context.Context, groupID, userID string) error

	// ResolveHandle resolves an @handle to a canonical user ID within the
	// group. Ambiguous or unknown handles are an error.
	ResolveHandle(ctx context.Context, groupID, handle string) (string, error)
}
