package encryption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

var tracer = otel.Tracer("encryption")

var keyRotationsTotal metric.Int64Counter

func init() {
	meter := otel.Meter("encryption")
	keyRotationsTotal, _ = meter.Int64Counter("encryption.key_rotations_total",
		metric.WithDescription("Encryption key rotations performed"))
}

// Key lifecycle states.
const (
	StatusActive  = "active"
	StatusRotated = "rotated"
	StatusRevoked = "revoked"
)

// ErrKeyInactive is returned when key material is requested for a key that
// has been rotated away or revoked. Rotated keys still exist for decrypting
// old data via KeyInfo, but never hand out material through Key.
var ErrKeyInactive = errors.New("encryption key is not active")

const (
	keyPrefix    = "encryption_key/"
	activePtrKey = "encryption_key/active"
)

// KeyRecord is the persisted form of one managed key.
type KeyRecord struct {
	KeyID     string            `json:"key_id"`
	Key       string            `json:"key"` // base64 of the raw key material
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at,omitempty"`
	RevokedAt string            `json:"revoked_at,omitempty"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// KeyInfo describes a key without exposing its material.
type KeyInfo struct {
	KeyID     string
	CreatedAt string
	UpdatedAt string
	RevokedAt string
	Status    string
	Metadata  map[string]string
}

// Rotation reports the outcome of a key rotation.
type Rotation struct {
	OldKeyID  string
	NewKeyID  string
	RotatedAt string
}

// Manager stores encryption keys in the shared key/value store and tracks
// which one is active. Key records themselves never expire.
type Manager struct {
	store  kv.Store
	clock  domain.Clock
	logger *slog.Logger
}

// ManagerConfig holds dependencies for NewManager.
type ManagerConfig struct {
	Store  kv.Store
	Clock  domain.Clock
	Logger *slog.Logger
}

// NewManager creates a key Manager.
func NewManager(cfg ManagerConfig) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: cfg.Store, clock: clock, logger: logger}
}

func recordKey(keyID string) string {
	return keyPrefix + keyID
}

// StoreKey persists key material under keyID in the active state. Storing
// does not make the key the active one; call SetActiveKey for that.
func (m *Manager) StoreKey(ctx context.Context, keyID string, key domain.SecretBytes, metadata map[string]string) error {
	if keyID == "" {
		return domain.ErrEmptyID
	}
	if len(key.Expose()) != KeySize {
		return fmt.Errorf("key must be %d bytes: %w", KeySize, domain.ErrInvalidInput)
	}

	rec := KeyRecord{
		KeyID:     keyID,
		Key:       base64.StdEncoding.EncodeToString(key.Expose()),
		CreatedAt: domain.Timestamp(m.clock),
		Status:    StatusActive,
		Metadata:  metadata,
	}
	if err := m.save(ctx, rec); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "encryption key stored", "managed_key_id", keyID)
	return nil
}

// Key returns the material for keyID. Only keys in the active state hand
// out material.
func (m *Manager) Key(ctx context.Context, keyID string) (domain.SecretBytes, error) {
	rec, err := m.load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusActive {
		return nil, fmt.Errorf("key %s has status %s: %w", keyID, rec.Status, ErrKeyInactive)
	}
	raw, err := base64.StdEncoding.DecodeString(rec.Key)
	if err != nil {
		return nil, fmt.Errorf("decode stored key %s: %w", keyID, err)
	}
	return domain.SecretBytes(raw), nil
}

// ActiveKeyID returns the identifier of the current active key.
func (m *Manager) ActiveKeyID(ctx context.Context) (string, error) {
	keyID, found, err := m.store.Get(ctx, activePtrKey)
	if err != nil {
		return "", fmt.Errorf("read active key pointer: %w", err)
	}
	if !found {
		return "", fmt.Errorf("no active encryption key: %w", domain.ErrNotFound)
	}
	return keyID, nil
}

// ActiveKey returns the current active key and its identifier.
func (m *Manager) ActiveKey(ctx context.Context) (string, domain.SecretBytes, error) {
	keyID, err := m.ActiveKeyID(ctx)
	if err != nil {
		return "", nil, err
	}
	key, err := m.Key(ctx, keyID)
	if err != nil {
		return "", nil, err
	}
	return keyID, key, nil
}

// ActiveCipher builds a Cipher from the active key.
func (m *Manager) ActiveCipher(ctx context.Context) (*Cipher, string, error) {
	keyID, key, err := m.ActiveKey(ctx)
	if err != nil {
		return nil, "", err
	}
	c, err := NewCipher(key)
	if err != nil {
		return nil, "", err
	}
	return c, keyID, nil
}

// SetActiveKey points the active marker at keyID. The key must exist.
func (m *Manager) SetActiveKey(ctx context.Context, keyID string) error {
	if _, err := m.load(ctx, keyID); err != nil {
		return err
	}
	if err := m.store.Set(ctx, activePtrKey, keyID, 0); err != nil {
		return fmt.Errorf("set active key pointer: %w", err)
	}
	m.logger.InfoContext(ctx, "active encryption key changed", "managed_key_id", keyID)
	return nil
}

// Initialize makes sure an active key exists, generating one on first boot.
// Returns the active key id either way. Safe to call on every startup.
func (m *Manager) Initialize(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "encryption.initialize")
	defer span.End()

	keyID, err := m.ActiveKeyID(ctx)
	if err == nil {
		return keyID, nil
	}
	if !domain.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	rotation, err := m.Rotate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("bootstrap first key: %w", err)
	}
	return rotation.NewKeyID, nil
}

// Rotate generates a fresh key, makes it active and marks the previous
// active key rotated. The old key record is kept so existing ciphertexts
// remain identifiable; only its status changes.
func (m *Manager) Rotate(ctx context.Context) (Rotation, error) {
	ctx, span := tracer.Start(ctx, "encryption.rotate")
	defer span.End()

	now := domain.Timestamp(m.clock)

	oldKeyID, err := m.ActiveKeyID(ctx)
	if err != nil && !domain.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Rotation{}, err
	}

	newKeyID := fmt.Sprintf("key_%d", m.clock.Now().Unix())
	if newKeyID == oldKeyID {
		return Rotation{}, fmt.Errorf("rotation collided with active key %s: %w", oldKeyID, domain.ErrAlreadyExists)
	}

	key, err := GenerateKey()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Rotation{}, err
	}
	if err := m.StoreKey(ctx, newKeyID, key, map[string]string{"rotation_date": now}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Rotation{}, err
	}
	if err := m.store.Set(ctx, activePtrKey, newKeyID, 0); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Rotation{}, fmt.Errorf("set active key pointer: %w", err)
	}

	if oldKeyID != "" {
		if err := m.setStatus(ctx, oldKeyID, StatusRotated, now); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Rotation{}, err
		}
	}

	keyRotationsTotal.Add(ctx, 1)
	span.SetAttributes(attribute.String("new_key_id", newKeyID))
	m.logger.InfoContext(ctx, "encryption key rotated",
		"old_key_id", oldKeyID,
		"new_key_id", newKeyID,
	)

	return Rotation{OldKeyID: oldKeyID, NewKeyID: newKeyID, RotatedAt: now}, nil
}

// Revoke marks keyID revoked. Revoked keys keep their record but never hand
// out material again.
func (m *Manager) Revoke(ctx context.Context, keyID string) error {
	now := domain.Timestamp(m.clock)
	if err := m.setStatus(ctx, keyID, StatusRevoked, now); err != nil {
		return err
	}
	m.logger.WarnContext(ctx, "encryption key revoked", "managed_key_id", keyID)
	return nil
}

// ListKeys returns metadata for every managed key, active marker excluded.
func (m *Manager) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	keys, err := m.store.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}

	infos := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		if k == activePtrKey {
			continue
		}
		rec, err := m.load(ctx, strings.TrimPrefix(k, keyPrefix))
		if err != nil {
			if domain.IsNotFound(err) {
				continue // deleted between scan and read
			}
			return nil, err
		}
		infos = append(infos, infoFromRecord(rec))
	}
	return infos, nil
}

// KeyInfo returns metadata for one key without its material.
func (m *Manager) KeyInfo(ctx context.Context, keyID string) (KeyInfo, error) {
	rec, err := m.load(ctx, keyID)
	if err != nil {
		return KeyInfo{}, err
	}
	return infoFromRecord(rec), nil
}

func infoFromRecord(rec KeyRecord) KeyInfo {
	return KeyInfo{
		KeyID:     rec.KeyID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		RevokedAt: rec.RevokedAt,
		Status:    rec.Status,
		Metadata:  rec.Metadata,
	}
}

func (m *Manager) setStatus(ctx context.Context, keyID, status, at string) error {
	rec, err := m.load(ctx, keyID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.UpdatedAt = at
	if status == StatusRevoked {
		rec.RevokedAt = at
	}
	return m.save(ctx, rec)
}

func (m *Manager) load(ctx context.Context, keyID string) (KeyRecord, error) {
	raw, found, err := m.store.Get(ctx, recordKey(keyID))
	if err != nil {
		return KeyRecord{}, fmt.Errorf("read key %s: %w", keyID, err)
	}
	if !found {
		return KeyRecord{}, fmt.Errorf("key %s: %w", keyID, domain.ErrNotFound)
	}
	var rec KeyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return KeyRecord{}, fmt.Errorf("decode key record %s: %w", keyID, err)
	}
	return rec, nil
}

func (m *Manager) save(ctx context.Context, rec KeyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode key record: %w", err)
	}
	if err := m.store.Set(ctx, recordKey(rec.KeyID), string(raw), 0); err != nil {
		return fmt.Errorf("write key record: %w", err)
	}
	return nil
}
