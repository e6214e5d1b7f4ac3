package guard

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gatewarden/gatewarden/internal/setup/config"
	"github.com/gatewarden/gatewarden/internal/whitelist"
)

var errPlatform = errors.New("platform error")

// fakeTransport records every call so tests can assert on the exact
// sequence of platform effects.
type fakeTransport struct {
	mu sync.Mutex

	ownRecord    MembershipRecord
	ownRecordErr error
	banErr       error

	groupMessages []string
	adminMessages []string
	bans          []string
	unbans        []string
}

func (f *fakeTransport) OwnMembershipRecord(context.Context, string) (MembershipRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.ownRecord, f.ownRecordErr
}

func (f *fakeTransport) GetMembershipRecord(context.Context, string, string) (MembershipRecord, error) {
	return MembershipRecord{Status: StatusMember}, nil
}

func (f *fakeTransport) SendGroupMessage(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.groupMessages = append(f.groupMessages, text)

	return nil
}

func (f *fakeTransport) SendAdminMessage(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.adminMessages = append(f.adminMessages, text)

	return nil
}

func (f *fakeTransport) SendMessage(_ context.Context, _, text string) error {
	return nil
}

func (f *fakeTransport) BanMember(_ context.Context, _, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.banErr != nil {
		return f.banErr
	}

	f.bans = append(f.bans, userID)

	return nil
}

func (f *fakeTransport) UnbanMember(_ context.Context, _, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unbans = append(f.unbans, userID)

	return nil
}

func (f *fakeTransport) ResolveHandle(context.Context, string, string) (string, error) {
	return "", errPlatform
}

// transportCalls is a copy of the recorded calls safe to read after the
// engine has quiesced.
type transportCalls struct {
	groupMessages []string
	adminMessages []string
	bans          []string
	unbans        []string
}

func (f *fakeTransport) snapshot() transportCalls {
	f.mu.Lock()
	defer f.mu.Unlock()

	return transportCalls{
		groupMessages: append([]string(nil), f.groupMessages...),
		adminMessages: append([]string(nil), f.adminMessages...),
		bans:          append([]string(nil), f.bans...),
		unbans:        append([]string(nil), f.unbans...),
	}
}

func adminRecord() MembershipRecord {
	return MembershipRecord{Status: StatusAdministrator, CanRestrictMembers: true}
}

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.Bot{AdminUserID: "900", GroupID: "g1"},
		Moderation: config.Moderation{
			AutoKickEnabled:    true,
			SendWelcomeMessage: true,
			AnnounceKicks:      true,
			UnbanDelay:         1,
		},
		Messages: config.Messages{Welcome: "Welcome! You are approved to join this group."},
	}
}

// newTestEngine builds an engine over a fresh store with the sleep seam
// disabled so reinstatements run immediately.
func newTestEngine(t *testing.T, cfg *config.Config, transport *fakeTransport) (*Engine, *whitelist.Store) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := whitelist.New(filepath.Join(t.TempDir(), "whitelist.json"), logger)
	settings := config.NewRuntimeSettings(&cfg.Moderation)

	engine := NewEngine(cfg, store, transport, settings, logger)
	engine.sleep = func(time.Duration) {}

	return engine, store
}

func TestHandleJoinIgnoresOtherGroups(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "other-group",
		Members: []Member{{ID: "100", DisplayName: "Intruder"}},
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.bans)
	assert.Empty(t, got.groupMessages)
	assert.Empty(t, got.adminMessages)
}

func TestHandleJoinWelcomesWhitelistedUser(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, store := newTestEngine(t, testConfig(), transport)
	store.Add("100")

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "100", DisplayName: "Alice", Handle: "alice"}},
	})
	engine.Wait()

	got := transport.snapshot()
	require.Len(t, got.groupMessages, 1)
	assert.Contains(t, got.groupMessages[0], "Welcome Alice!")
	assert.Empty(t, got.bans)
}

func TestSilentModeSuppressesGroupMessages(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	transport := &fakeTransport{ownRecord: adminRecord()}

	logger := zaptest.NewLogger(t)
	store := whitelist.New(filepath.Join(t.TempDir(), "whitelist.json"), logger)
	store.Add("100")

	settings := config.NewRuntimeSettings(&cfg.Moderation)
	settings.SetSilentMode(true)

	engine := NewEngine(cfg, store, transport, settings, logger)
	engine.sleep = func(time.Duration) {}

	// Welcome for a whitelisted joiner is suppressed
	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "100", DisplayName: "Alice"}},
	})

	// Kick announcement for an unauthorized joiner is suppressed too
	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "200", DisplayName: "Mallory"}},
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.groupMessages)
	assert.Equal(t, []string{"200"}, got.bans, "silent mode must not disable removal itself")
}

func TestRemovalSequence(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID:   "g1",
		GroupName: "Test Group",
		Members:   []Member{{ID: "100", DisplayName: "Mallory", Handle: "mallory"}},
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Equal(t, []string{"100"}, got.bans)
	assert.Equal(t, []string{"100"}, got.unbans)

	require.Len(t, got.groupMessages, 1)
	assert.Contains(t, got.groupMessages[0], "Mallory")

	require.Len(t, got.adminMessages, 1)
	assert.Contains(t, got.adminMessages[0], "Automatically kicked user")
	assert.Contains(t, got.adminMessages[0], KickReason)
	assert.Contains(t, got.adminMessages[0], "Test Group")
}

func TestRemovalAbortsWithoutPermissions(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		ownRecord: MembershipRecord{Status: StatusMember},
	}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "100", DisplayName: "Mallory"}},
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.bans)
	assert.Empty(t, got.unbans, "no reinstatement may be scheduled for a failed removal")

	require.Len(t, got.adminMessages, 1)
	assert.Contains(t, got.adminMessages[0], "lacks admin permissions")
}

func TestRemovalReportsBanFailure(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord(), banErr: errPlatform}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "100", DisplayName: "Mallory"}},
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.bans)
	assert.Empty(t, got.unbans)
	assert.Empty(t, got.groupMessages)

	require.Len(t, got.adminMessages, 1)
	assert.Contains(t, got.adminMessages[0], "CRITICAL ERROR: Failed to kick user!")
}

func TestAutoKickDisabledNotifiesOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Moderation.AutoKickEnabled = false

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, cfg, transport)

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "100", DisplayName: "Mallory"}},
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.bans)

	require.Len(t, got.adminMessages, 1)
	assert.Contains(t, got.adminMessages[0], "auto-kick disabled")
}

func TestBotAccountsSkipped(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "100", DisplayName: "Helper", IsBot: true}},
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.bans)
	assert.Empty(t, got.adminMessages)
}

func TestBotAccountsAdmittedWhenAllowed(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Moderation.AllowBots = true

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, cfg, transport)

	engine.HandleJoin(context.Background(), JoinEvent{
		GroupID: "g1",
		Members: []Member{{ID: "100", DisplayName: "Helper", IsBot: true}},
	})
	engine.Wait()

	// With bots allowed, a non-whitelisted bot goes through the normal
	// removal path like any other member.
	got := transport.snapshot()
	assert.Equal(t, []string{"100"}, got.bans)
}

func TestStatusChangeAdminSkipsCheck(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleStatusChange(context.Background(), StatusChangeEvent{
		GroupID:   "g1",
		Member:    Member{ID: "100", DisplayName: "NewMod"},
		OldStatus: StatusLeft,
		NewStatus: StatusAdministrator,
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.bans)
	assert.Empty(t, got.adminMessages)
}

func TestStatusChangeIgnoresNonJoinTransitions(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleStatusChange(context.Background(), StatusChangeEvent{
		GroupID:   "g1",
		Member:    Member{ID: "100", DisplayName: "Former"},
		OldStatus: StatusMember,
		NewStatus: StatusLeft,
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Empty(t, got.bans)
	assert.Empty(t, got.adminMessages)
}

func TestStatusChangeKicksUnauthorizedMember(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.HandleStatusChange(context.Background(), StatusChangeEvent{
		GroupID:   "g1",
		Member:    Member{ID: "100", DisplayName: "Mallory"},
		OldStatus: StatusLeft,
		NewStatus: StatusMember,
	})
	engine.Wait()

	got := transport.snapshot()
	assert.Equal(t, []string{"100"}, got.bans)

	require.Len(t, got.adminMessages, 1)
	assert.Contains(t, got.adminMessages[0], "Kicked user added by admin")
}

func TestReinstatementDeduplicated(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	release := make(chan struct{})
	engine.sleep = func(time.Duration) { <-release }

	ev := JoinEvent{GroupID: "g1", Members: []Member{{ID: "100", DisplayName: "Mallory"}}}

	engine.HandleJoin(context.Background(), ev)
	engine.HandleJoin(context.Background(), ev)

	assert.Equal(t, []string{"g1/100"}, engine.PendingReinstatements())

	close(release)
	engine.Wait()

	got := transport.snapshot()
	assert.Equal(t, []string{"100", "100"}, got.bans)
	assert.Equal(t, []string{"100"}, got.unbans, "a pending unban must not be scheduled twice")
	assert.Empty(t, engine.PendingReinstatements())
}

func TestStartupCheckReportsMissingPermissions(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		ownRecord: MembershipRecord{Status: StatusMember},
	}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.StartupCheck(context.Background())

	got := transport.snapshot()
	require.Len(t, got.adminMessages, 1)
	assert.Contains(t, got.adminMessages[0], "lacks admin permissions")
	assert.True(t, strings.Contains(got.adminMessages[0], "Can kick members: No"))
}

func TestStartupCheckQuietWhenHealthy(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ownRecord: adminRecord()}
	engine, _ := newTestEngine(t, testConfig(), transport)

	engine.StartupCheck(context.Background())

	assert.Empty(t, transport.snapshot().adminMessages)
}
