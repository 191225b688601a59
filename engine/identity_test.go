package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasigo/loanbook/engine"
	"github.com/kasigo/loanbook/store/sqlite"
)

func newTestIdentity(t *testing.T) (*engine.Identity, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return engine.NewIdentity(store), store
}

// =============================================================================
// MASTER PASSWORD
// =============================================================================

func TestSetupMasterPassword_BootstrapsAdmin(t *testing.T) {
	// GIVEN: A fresh database with no master password
	// WHEN: Setting the master password
	// THEN: The status flips to set, the default admin exists and can log in,
	//       and a second setup attempt is a conflict.

	identity, _ := newTestIdentity(t)
	ctx := context.Background()

	set, err := identity.MasterPasswordSet(ctx)
	require.NoError(t, err)
	assert.False(t, set)

	boot, err := identity.SetupMasterPassword(ctx, "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "admin", boot.Username)

	set, err = identity.MasterPasswordSet(ctx)
	require.NoError(t, err)
	assert.True(t, set)

	admin, err := identity.VerifyCredentials(ctx, boot.Username, boot.Password)
	require.NoError(t, err)
	assert.Equal(t, engine.RoleAdmin, admin.Role)
	assert.True(t, admin.IsActive)

	_, err = identity.SetupMasterPassword(ctx, "another secret phrase")
	assert.ErrorIs(t, err, engine.ErrConflict)
}

func TestSetupMasterPassword_MinimumLength(t *testing.T) {
	identity, _ := newTestIdentity(t)

	_, err := identity.SetupMasterPassword(context.Background(), "short")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestVerifyMasterPassword(t *testing.T) {
	identity, _ := newTestIdentity(t)
	ctx := context.Background()

	err := identity.VerifyMasterPassword(ctx, "anything")
	assert.ErrorIs(t, err, engine.ErrConflict, "unset master password cannot verify")

	_, err = identity.SetupMasterPassword(ctx, "branch master secret")
	require.NoError(t, err)

	assert.NoError(t, identity.VerifyMasterPassword(ctx, "branch master secret"))
	assert.ErrorIs(t, identity.VerifyMasterPassword(ctx, "wrong secret here"), engine.ErrConflict)
}

// =============================================================================
// USER ACCOUNTS
// =============================================================================

func TestCreateUser_AdminGateAndUniqueness(t *testing.T) {
	identity, _ := newTestIdentity(t)
	ctx := context.Background()

	input := engine.CreateUserInput{
		Username: "thandi",
		Password: "pass1234",
		FullName: "Thandi M",
		Role:     engine.RoleEmployee,
		Branch:   "Main Street",
	}

	_, err := identity.CreateUser(ctx, input, managerActor)
	assert.ErrorIs(t, err, engine.ErrForbidden, "managers cannot create users")

	u, err := identity.CreateUser(ctx, input, adminActor)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "pass1234", u.PasswordHash, "password must be hashed")

	_, err = identity.CreateUser(ctx, input, adminActor)
	assert.ErrorIs(t, err, engine.ErrConflict, "duplicate username rejected")
}

func TestCreateUser_InvalidRole(t *testing.T) {
	identity, _ := newTestIdentity(t)

	_, err := identity.CreateUser(context.Background(), engine.CreateUserInput{
		Username: "thandi",
		Password: "pass1234",
		Role:     engine.Role("superuser"),
	}, adminActor)
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestVerifyCredentials_InactiveFailsLikeWrongPassword(t *testing.T) {
	// Deactivated accounts must be indistinguishable from bad credentials.

	identity, _ := newTestIdentity(t)
	ctx := context.Background()

	u, err := identity.CreateUser(ctx, engine.CreateUserInput{
		Username: "thandi",
		Password: "pass1234",
		FullName: "Thandi M",
		Role:     engine.RoleEmployee,
	}, adminActor)
	require.NoError(t, err)

	_, err = identity.VerifyCredentials(ctx, "thandi", "pass1234")
	require.NoError(t, err)

	wrongErr := func() string {
		_, err := identity.VerifyCredentials(ctx, "thandi", "nope")
		require.Error(t, err)
		return err.Error()
	}()

	active, err := identity.ToggleUserActive(ctx, u.ID, adminActor)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = identity.VerifyCredentials(ctx, "thandi", "pass1234")
	require.Error(t, err)
	assert.Equal(t, wrongErr, err.Error())
}

func TestToggleUserActive_Audited(t *testing.T) {
	identity, store := newTestIdentity(t)
	ctx := context.Background()

	u, err := identity.CreateUser(ctx, engine.CreateUserInput{
		Username: "thandi",
		Password: "pass1234",
		Role:     engine.RoleEmployee,
	}, adminActor)
	require.NoError(t, err)

	_, err = identity.ToggleUserActive(ctx, u.ID, staffActor)
	assert.ErrorIs(t, err, engine.ErrForbidden)

	active, err := identity.ToggleUserActive(ctx, u.ID, adminActor)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = identity.ToggleUserActive(ctx, u.ID, adminActor)
	require.NoError(t, err)
	assert.True(t, active, "toggling twice restores the account")

	entries, err := store.ListAudit(ctx, engine.AuditFilter{EntityType: engine.EntityUser, EntityID: u.ID})
	require.NoError(t, err)
	var toggles int
	for _, e := range entries {
		if e.Action == engine.AuditToggleActive {
			toggles++
		}
	}
	assert.Equal(t, 2, toggles)
}

func TestActorFor(t *testing.T) {
	identity, _ := newTestIdentity(t)
	ctx := context.Background()

	u, err := identity.CreateUser(ctx, engine.CreateUserInput{
		Username: "thandi",
		Password: "pass1234",
		FullName: "Thandi M",
		Role:     engine.RoleManager,
	}, adminActor)
	require.NoError(t, err)

	actor, err := identity.ActorFor(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Actor{ID: u.ID, FullName: "Thandi M", Role: engine.RoleManager}, actor)

	_, err = identity.ActorFor(ctx, "no-such-user")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = identity.ToggleUserActive(ctx, u.ID, adminActor)
	require.NoError(t, err)
	_, err = identity.ActorFor(ctx, u.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound, "inactive users cannot act")
}
