/*
identity.go - Staff accounts and the master secret

PURPOSE:
  Verifies credentials and manages staff accounts. Passwords and the master
  secret are stored as bcrypt hashes; nothing here issues sessions or
  tokens - the bridge layer owns session lifetime and hands the engine an
  already-resolved actor id.

LIFECYCLE:
  Users are never deleted, only deactivated, and their role is immutable
  after creation. The first admin account is bootstrapped when the master
  secret is set up.
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const masterSecretKey = "master_password_hash"

// Identity provides credential verification and staff account management.
type Identity struct {
	store Store
}

func NewIdentity(s Store) *Identity {
	return &Identity{store: s}
}

type CreateUserInput struct {
	Username string
	Password string
	FullName string
	Role     Role
	Branch   string
}

// CreateUser adds a staff account. Admin only. The username must be unique
// across all users, active or not.
func (id *Identity) CreateUser(ctx context.Context, in CreateUserInput, actor Actor) (*User, error) {
	if err := requireCapability(actor, ActionManageUsers); err != nil {
		return nil, err
	}
	if in.Username == "" {
		return nil, Validationf("username", "must not be empty")
	}
	if in.Password == "" {
		return nil, Validationf("password", "must not be empty")
	}
	if !in.Role.Valid() {
		return nil, Validationf("role", "must be employee, manager or admin")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: string(hash),
		FullName:     in.FullName,
		Role:         in.Role,
		Branch:       in.Branch,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	err = id.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetUserByUsername(ctx, in.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			return Conflictf("username %q already exists", in.Username)
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return err
		}
		entry, err := newAuditEntry(ctx, s, EntityUser, u.ID, AuditCreate, actor,
			nil, map[string]any{"username": u.Username, "role": string(u.Role)}, "")
		if err != nil {
			return err
		}
		return s.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ToggleUserActive flips the active flag. Admin only, audited with the
// before and after state.
func (id *Identity) ToggleUserActive(ctx context.Context, userID string, actor Actor) (bool, error) {
	if err := requireCapability(actor, ActionManageUsers); err != nil {
		return false, err
	}

	var newState bool
	err := id.store.WithTx(ctx, func(s Store) error {
		target, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if target == nil {
			return NotFoundf(EntityUser, userID)
		}
		newState = !target.IsActive
		if err := s.SetUserActive(ctx, userID, newState); err != nil {
			return err
		}
		entry, err := newAuditEntry(ctx, s, EntityUser, userID, AuditToggleActive, actor,
			map[string]any{"is_active": target.IsActive},
			map[string]any{"is_active": newState}, "")
		if err != nil {
			return err
		}
		return s.AppendAudit(ctx, entry)
	})
	return newState, err
}

// ListUsers returns all staff accounts. Admin only.
func (id *Identity) ListUsers(ctx context.Context, actor Actor) ([]*User, error) {
	if err := requireCapability(actor, ActionManageUsers); err != nil {
		return nil, err
	}
	return id.store.ListUsers(ctx)
}

// VerifyCredentials checks a username/password pair against the store.
// Returns the user on success; inactive accounts fail identically to wrong
// passwords.
func (id *Identity) VerifyCredentials(ctx context.Context, username, password string) (*User, error) {
	u, err := id.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, Conflictf("invalid username or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, Conflictf("invalid username or password")
	}
	return u, nil
}

// ActorFor resolves a user id into an Actor for engine calls. Inactive or
// unknown users cannot act.
func (id *Identity) ActorFor(ctx context.Context, userID string) (Actor, error) {
	u, err := id.store.GetUser(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	if u == nil || !u.IsActive {
		return Actor{}, NotFoundf(EntityUser, userID)
	}
	return Actor{ID: u.ID, FullName: u.FullName, Role: u.Role}, nil
}

// =============================================================================
// MASTER SECRET
// =============================================================================

// MasterPasswordSet reports whether the master secret has been configured.
func (id *Identity) MasterPasswordSet(ctx context.Context) (bool, error) {
	_, ok, err := id.store.GetSetting(ctx, masterSecretKey)
	return ok, err
}

// BootstrapAdmin is the default account created alongside the master secret.
type BootstrapAdmin struct {
	Username string
	Password string
}

// SetupMasterPassword stores the master secret hash and bootstraps the
// initial admin account. Fails if the secret is already set.
func (id *Identity) SetupMasterPassword(ctx context.Context, password string) (*BootstrapAdmin, error) {
	if len(password) < 8 {
		return nil, Validationf("password", "must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	boot := &BootstrapAdmin{Username: "admin", Password: "admin123"}
	adminHash, err := bcrypt.GenerateFromPassword([]byte(boot.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	err = id.store.WithTx(ctx, func(s Store) error {
		if _, ok, err := s.GetSetting(ctx, masterSecretKey); err != nil {
			return err
		} else if ok {
			return Conflictf("master password already set")
		}
		if err := s.SetSetting(ctx, masterSecretKey, string(hash)); err != nil {
			return err
		}
		existing, err := s.GetUserByUsername(ctx, boot.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		return s.CreateUser(ctx, &User{
			ID:           uuid.NewString(),
			Username:     boot.Username,
			PasswordHash: string(adminHash),
			FullName:     "System Administrator",
			Role:         RoleAdmin,
			Branch:       "Head Office",
			IsActive:     true,
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return boot, nil
}

// VerifyMasterPassword checks the master secret.
func (id *Identity) VerifyMasterPassword(ctx context.Context, password string) error {
	stored, ok, err := id.store.GetSetting(ctx, masterSecretKey)
	if err != nil {
		return err
	}
	if !ok {
		return Conflictf("master password not set")
	}
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
		return Conflictf("invalid master password")
	}
	return nil
}
