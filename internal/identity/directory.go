// Package identity is the user directory: account records with credential
// material, role lists, and MFA enrollment state, kept in the shared store
// with secondary indexes for username and email lookup.
//
// The directory stores hashes and secrets but never checks them; credential
// verification belongs to the authn package.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

var tracer = otel.Tracer("identity")

// User is one account record as persisted.
type User struct {
	ID           string   `json:"user_id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"password_hash"`
	Roles        []string `json:"roles"`
	MFAEnabled   bool     `json:"mfa_enabled"`
	MFASecret    string   `json:"mfa_secret,omitempty"`
	Active       bool     `json:"active"`
	Verified     bool     `json:"verified"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// NewUser is the caller-supplied part of a new account.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	// Roles defaults to domain.DefaultRoles when empty.
	Roles []string
}

// Directory provides account CRUD over the shared store.
type Directory struct {
	store  kv.Store
	clock  domain.Clock
	logger *slog.Logger
}

// DirectoryConfig holds the dependencies for creating a Directory.
type DirectoryConfig struct {
	Store  kv.Store
	Clock  domain.Clock
	Logger *slog.Logger
}

// NewDirectory creates a user directory.
func NewDirectory(cfg DirectoryConfig) *Directory {
	d := &Directory{
		store:  cfg.Store,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if d.clock == nil {
		d.clock = domain.RealClock{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

func userKey(id string) string           { return "user/" + id }
func usernameKey(username string) string { return "user_username/" + username }
func emailKey(email string) string       { return "user_email/" + email }

// CreateUser registers a new account. Username and email must be unique.
//
// Uniqueness is check-then-write: two simultaneous creates for the same
// username can race inside one store round trip. Registration goes through
// a single flow in practice; the write order below keeps the indexes
// authoritative either way.
func (d *Directory) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	ctx, span := tracer.Start(ctx, "identity.CreateUser")
	defer span.End()

	if nu.Username == "" || nu.Email == "" {
		return nil, fmt.Errorf("username and email are required: %w", domain.ErrInvalidInput)
	}
	if nu.PasswordHash == "" {
		return nil, fmt.Errorf("password hash is required: %w", domain.ErrInvalidInput)
	}

	for key, what := range map[string]string{
		usernameKey(nu.Username): "username",
		emailKey(nu.Email):       "email",
	} {
		taken, err := d.store.Exists(ctx, key)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("check %s: %w", what, err))
		}
		if taken {
			return nil, fmt.Errorf("%s already registered: %w", what, domain.ErrAlreadyExists)
		}
	}

	now := domain.Timestamp(d.clock)
	user := &User{
		ID:           domain.NewUserID(),
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Roles:        nu.Roles,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(user.Roles) == 0 {
		user.Roles = slices.Clone(domain.DefaultRoles)
	}

	if err := d.write(ctx, user); err != nil {
		return nil, spanErr(span, err)
	}
	if err := d.store.Set(ctx, usernameKey(user.Username), user.ID, 0); err != nil {
		return nil, spanErr(span, fmt.Errorf("write username index: %w", err))
	}
	if err := d.store.Set(ctx, emailKey(user.Email), user.ID, 0); err != nil {
		return nil, spanErr(span, fmt.Errorf("write email index: %w", err))
	}

	d.logger.InfoContext(ctx, "identity.user_created",
		"user_id", user.ID, "username", user.Username, "roles", user.Roles)
	return user, nil
}

// GetUser fetches an account by its identifier.
func (d *Directory) GetUser(ctx context.Context, id string) (*User, error) {
	ctx, span := tracer.Start(ctx, "identity.GetUser")
	defer span.End()

	if err := domain.ValidateID(id); err != nil {
		return nil, err
	}

	raw, found, err := d.store.Get(ctx, userKey(id))
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("read user: %w", err))
	}
	if !found {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, spanErr(span, fmt.Errorf("decode user record: %w", err))
	}
	return &user, nil
}

// GetByUsername fetches an account through the username index.
func (d *Directory) GetByUsername(ctx context.Context, username string) (*User, error) {
	return d.getByIndex(ctx, "identity.GetByUsername", usernameKey(username))
}

// GetByEmail fetches an account through the email index.
func (d *Directory) GetByEmail(ctx context.Context, email string) (*User, error) {
	return d.getByIndex(ctx, "identity.GetByEmail", emailKey(email))
}

func (d *Directory) getByIndex(ctx context.Context, op, indexKey string) (*User, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	id, found, err := d.store.Get(ctx, indexKey)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("read index: %w", err))
	}
	if !found {
		return nil, fmt.Errorf("no such user: %w", domain.ErrNotFound)
	}
	return d.GetUser(ctx, id)
}

// UpdateUser persists changes to an existing account, moving the username
// and email indexes when those fields changed. The record's UpdatedAt is
// stamped here.
func (d *Directory) UpdateUser(ctx context.Context, user *User) error {
	ctx, span := tracer.Start(ctx, "identity.UpdateUser",
		trace.WithAttributes(attribute.String("user.id", user.ID)))
	defer span.End()

	current, err := d.GetUser(ctx, user.ID)
	if err != nil {
		return err
	}

	if user.Username != current.Username {
		if err := d.moveIndex(ctx, usernameKey(current.Username), usernameKey(user.Username), user.ID, "username"); err != nil {
			return spanErr(span, err)
		}
	}
	if user.Email != current.Email {
		if err := d.moveIndex(ctx, emailKey(current.Email), emailKey(user.Email), user.ID, "email"); err != nil {
			return spanErr(span, err)
		}
	}

	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = domain.Timestamp(d.clock)
	if err := d.write(ctx, user); err != nil {
		return spanErr(span, err)
	}
	return nil
}

func (d *Directory) moveIndex(ctx context.Context, oldKey, newKey, id, what string) error {
	taken, err := d.store.Exists(ctx, newKey)
	if err != nil {
		return fmt.Errorf("check %s: %w", what, err)
	}
	if taken {
		return fmt.Errorf("%s already registered: %w", what, domain.ErrAlreadyExists)
	}
	if err := d.store.Set(ctx, newKey, id, 0); err != nil {
		return fmt.Errorf("write %s index: %w", what, err)
	}
	if err := d.store.Del(ctx, oldKey); err != nil {
		return fmt.Errorf("drop old %s index: %w", what, err)
	}
	return nil
}

// SetPasswordHash replaces the stored credential, for reset and rehash flows.
func (d *Directory) SetPasswordHash(ctx context.Context, id, hash string) error {
	return d.mutate(ctx, "identity.SetPasswordHash", id, func(u *User) error {
		u.PasswordHash = hash
		return nil
	})
}

// SetVerified marks the account as identity-proofed.
func (d *Directory) SetVerified(ctx context.Context, id string) error {
	return d.mutate(ctx, "identity.SetVerified", id, func(u *User) error {
		u.Verified = true
		return nil
	})
}

// EnableMFA stores the shared secret and turns the second factor on.
func (d *Directory) EnableMFA(ctx context.Context, id string, secret domain.SecretString) error {
	return d.mutate(ctx, "identity.EnableMFA", id, func(u *User) error {
		if secret.IsEmpty() {
			return fmt.Errorf("mfa secret is required: %w", domain.ErrInvalidInput)
		}
		u.MFAEnabled = true
		u.MFASecret = secret.Expose()
		return nil
	})
}

// DisableMFA turns the second factor off and discards the secret.
func (d *Directory) DisableMFA(ctx context.Context, id string) error {
	return d.mutate(ctx, "identity.DisableMFA", id, func(u *User) error {
		u.MFAEnabled = false
		u.MFASecret = ""
		return nil
	})
}

// Deactivate suspends the account. The reason lands in metadata for audit
// correlation; authentication flows must reject inactive accounts.
func (d *Directory) Deactivate(ctx context.Context, id, reason string) error {
	err := d.mutate(ctx, "identity.Deactivate", id, func(u *User) error {
		u.Active = false
		if reason != "" {
			if u.Metadata == nil {
				u.Metadata = make(map[string]string)
			}
			u.Metadata["deactivation_reason"] = reason
		}
		return nil
	})
	if err == nil {
		d.logger.WarnContext(ctx, "identity.user_deactivated", "user_id", id, "reason", reason)
	}
	return err
}

// Reactivate lifts a suspension.
func (d *Directory) Reactivate(ctx context.Context, id string) error {
	return d.mutate(ctx, "identity.Reactivate", id, func(u *User) error {
		u.Active = true
		delete(u.Metadata, "deactivation_reason")
		return nil
	})
}

// AddRole grants a role. Granting a held role is a no-op.
func (d *Directory) AddRole(ctx context.Context, id, role string) error {
	return d.mutate(ctx, "identity.AddRole", id, func(u *User) error {
		if role == "" {
			return fmt.Errorf("role is required: %w", domain.ErrInvalidInput)
		}
		if !slices.Contains(u.Roles, role) {
			u.Roles = append(u.Roles, role)
		}
		return nil
	})
}

// RemoveRole revokes a role. Revoking an unheld role is a no-op.
func (d *Directory) RemoveRole(ctx context.Context, id, role string) error {
	return d.mutate(ctx, "identity.RemoveRole", id, func(u *User) error {
		u.Roles = slices.DeleteFunc(u.Roles, func(r string) bool { return r == role })
		return nil
	})
}

// mutate is read-modify-write on one account record.
func (d *Directory) mutate(ctx context.Context, op, id string, fn func(*User) error) error {
	ctx, span := tracer.Start(ctx, op,
		trace.WithAttributes(attribute.String("user.id", id)))
	defer span.End()

	user, err := d.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(user); err != nil {
		return err
	}

	user.UpdatedAt = domain.Timestamp(d.clock)
	if err := d.write(ctx, user); err != nil {
		return spanErr(span, err)
	}
	return nil
}

func (d *Directory) write(ctx context.Context, user *User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user record: %w", err)
	}
	if err := d.store.Set(ctx, userKey(user.ID), string(raw), 0); err != nil {
		return fmt.Errorf("write user record: %w", err)
	}
	return nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
