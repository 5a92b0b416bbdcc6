// Package store persists licenses, clients and tamper events in a
// generic keyed store backed by Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"licgate/internal/config"
	"licgate/pkg/contracts/domain"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

const (
	licenseKeyPrefix = "license:"
	clientKeyPrefix  = "client:"
	tamperStream     = "tamperevents"
)

// statusCASScript moves a license status one way, toward lockdown.
// Terminal states win every race: a concurrent writer that locked the
// license first is never overwritten, so no transition is ever lost to
// a last-writer-wins update. Returns the resulting status, or "" when
// the license does not exist.
var statusCASScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return ""
end
if status == "TAMPERED" or status == "TERMINATED" or status == "ATTEMPTED_CLONING" then
  return status
end
redis.call("HSET", KEYS[1], "status", ARGV[1])
return ARGV[1]
`)

// NewClient builds a Redis client from configuration and verifies
// connectivity before returning it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore implements the persistence contracts of the validation
// engine on Redis hashes and streams.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a store on an established client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With(slog.String("component", "store")),
	}
}

// FindLicenseByKey loads a license by its externally issued key.
func (s *RedisStore) FindLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	fields, err := s.client.HGetAll(ctx, licenseKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("license lookup failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return licenseFromFields(key, fields), nil
}

// SaveLicense writes the full license record. Used by issuance and
// administrative tooling, not the hot validation path.
func (s *RedisStore) SaveLicense(ctx context.Context, lic *domain.License) error {
	if lic.ID == "" {
		lic.ID = uuid.New().String()
	}
	if lic.Status == "" {
		lic.Status = domain.StatusActive
	}
	err := s.client.HSet(ctx, licenseKeyPrefix+lic.LicenseKey, licenseToFields(lic)).Err()
	if err != nil {
		return fmt.Errorf("license save failed: %w", err)
	}
	return nil
}

// UpdateLicenseStatus applies a one-way status transition and returns
// the status the license ended up with. When a terminal state already
// holds, that state is returned and the write is refused.
func (s *RedisStore) UpdateLicenseStatus(ctx context.Context, licenseKey string, status domain.LicenseStatus) (domain.LicenseStatus, error) {
	res, err := statusCASScript.Run(ctx, s.client, []string{licenseKeyPrefix + licenseKey}, string(status)).Text()
	if err != nil {
		return "", fmt.Errorf("status update failed: %w", err)
	}
	if res == "" {
		return "", ErrNotFound
	}
	return domain.LicenseStatus(res), nil
}

// RestoreLicense is the out-of-band administrative action that moves a
// license back to ACTIVE. It deliberately bypasses the one-way CAS and
// must never be called from the validation path.
func (s *RedisStore) RestoreLicense(ctx context.Context, licenseKey string) error {
	exists, err := s.client.Exists(ctx, licenseKeyPrefix+licenseKey).Result()
	if err != nil {
		return fmt.Errorf("license restore failed: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.client.HSet(ctx, licenseKeyPrefix+licenseKey, "status", string(domain.StatusActive)).Err()
}

// TouchLicense updates the lastChecked/lastUsedAt timestamps.
func (s *RedisStore) TouchLicense(ctx context.Context, licenseKey string, at time.Time) error {
	err := s.client.HSet(ctx, licenseKeyPrefix+licenseKey,
		"lastChecked", at.UTC().Format(time.RFC3339Nano),
		"lastUsedAt", at.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("license touch failed: %w", err)
	}
	return nil
}

// FindClientByEmail loads the owning client record.
func (s *RedisStore) FindClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	fields, err := s.client.HGetAll(ctx, clientKeyPrefix+email).Result()
	if err != nil {
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	count, _ := strconv.Atoi(fields["tamperCount"])
	return &domain.Client{
		Email:       email,
		TamperCount: count,
		Domain:      fields["domain"],
		UpdatedAt:   parseTime(fields["updatedAt"]),
	}, nil
}

// SaveClient writes the client record.
func (s *RedisStore) SaveClient(ctx context.Context, c *domain.Client) error {
	err := s.client.HSet(ctx, clientKeyPrefix+c.Email,
		"email", c.Email,
		"tamperCount", strconv.Itoa(c.TamperCount),
		"domain", c.Domain,
		"updatedAt", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("client save failed: %w", err)
	}
	return nil
}

// IncrementClientTamperCount atomically bumps the client kill-switch
// counter and returns the new value.
func (s *RedisStore) IncrementClientTamperCount(ctx context.Context, email string) (int64, error) {
	count, err := s.client.HIncrBy(ctx, clientKeyPrefix+email, "tamperCount", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("tamper count increment failed: %w", err)
	}
	s.client.HSet(ctx, clientKeyPrefix+email, "updatedAt", time.Now().UTC().Format(time.RFC3339Nano))
	return count, nil
}

// CreateTamperEvent appends one immutable evidentiary record. Events
// are never mutated or deleted by the engine.
func (s *RedisStore) CreateTamperEvent(ctx context.Context, ev *domain.TamperEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: tamperStream,
		Values: map[string]interface{}{
			"id":          ev.ID,
			"licenseId":   ev.LicenseID,
			"ipAddress":   ev.IPAddress,
			"severity":    ev.Severity,
			"oldHash":     ev.OldHash,
			"newHash":     ev.NewHash,
			"description": ev.Description,
			"timestamp":   ev.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("tamper event append failed: %w", err)
	}
	return nil
}

// TamperEventCount reports the stream length. Exposed for external
// reporting and tests; the engine itself never reads events back.
func (s *RedisStore) TamperEventCount(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, tamperStream).Result()
}

func licenseToFields(lic *domain.License) map[string]interface{} {
	return map[string]interface{}{
		"id":             lic.ID,
		"licenseKey":     lic.LicenseKey,
		"domain":         lic.Domain,
		"stagingDomain":  lic.StagingDomain,
		"status":         string(lic.Status),
		"validFrom":      lic.ValidFrom.UTC().Format(time.RFC3339Nano),
		"expiresAt":      lic.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"editMode":       boolField(lic.EditMode),
		"editModeExpiry": lic.EditModeExpiry.UTC().Format(time.RFC3339Nano),
		"cleanSnapshot":  lic.CleanSnapshot,
		"clientEmail":    lic.ClientEmail,
	}
}

func licenseFromFields(key string, fields map[string]string) *domain.License {
	return &domain.License{
		ID:             fields["id"],
		LicenseKey:     key,
		Domain:         fields["domain"],
		StagingDomain:  fields["stagingDomain"],
		Status:         domain.LicenseStatus(fields["status"]),
		ValidFrom:      parseTime(fields["validFrom"]),
		ExpiresAt:      parseTime(fields["expiresAt"]),
		EditMode:       fields["editMode"] == "1",
		EditModeExpiry: parseTime(fields["editModeExpiry"]),
		CleanSnapshot:  fields["cleanSnapshot"],
		ClientEmail:    fields["clientEmail"],
		LastChecked:    parseTime(fields["lastChecked"]),
		LastUsedAt:     parseTime(fields["lastUsedAt"]),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
