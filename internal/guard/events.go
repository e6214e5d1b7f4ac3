package guard

// Membership status strings used across events and membership records.
const (
	StatusLeft          = "left"
	StatusMember        = "member"
	StatusAdministrator = "administrator"
)

// Member describes the user a membership event is about.
type Member struct {
	// Canonical string form of the platform user ID.
	ID string
	// Display name for log lines and notifications.
	DisplayName string
	// Handle, if the platform exposes one (may be empty).
	Handle string
	// Whether this is an automated account.
	IsBot bool
}

// Info renders the member the way notifications and logs refer to it.
func (m Member) Info() string {
	name := m.DisplayName
	if name == "" {
		name = "Unknown"
	}

	handle := "no handle"
	if m.Handle != "" {
		handle = "@" + m.Handle
	}

	return name + " (" + handle + ") [ID: " + m.ID + "]"
}

// JoinEvent reports one or more users joining a group. Members are
// processed sequentially in delivered order.
type JoinEvent struct {
	GroupID   string
	GroupName string
	Members   []Member
}

// StatusChangeEvent reports a membership status transition for one user,
// typically a user added to the group by an administrator.
type StatusChangeEvent struct {
	GroupID   string
	GroupName string
	Member    Member
	OldStatus string
	NewStatus string
}

// MembershipRecord is the platform's view of one member of a group,
// including the capability flags the bot needs for moderation.
type MembershipRecord struct {
	Status             string
	CanRestrictMembers bool
	CanDeleteMessages  bool
	CanInviteUsers     bool
	CanPromoteMembers  bool
}

// CanModerate reports whether this record permits removing members.
func (r MembershipRecord) CanModerate() bool {
	return r.Status == StatusAdministrator && r.CanRestrictMembers
}
