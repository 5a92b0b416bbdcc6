// Package reputation tracks abuse per source address. Two independent
// block mechanisms apply: the per-deployment record and a shared global
// block list; either one blocks the request.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"licgate/pkg/contracts/domain"
)

const (
	ipKeyPrefix     = "ip:"
	globalBlockList = "blocklist:global"
)

// Verdict is the result of a reputation check.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Guard reads and escalates IP reputation records.
type Guard struct {
	client    *redis.Client
	threshold int64
	logger    *slog.Logger
}

// NewGuard creates a guard that blocks an address permanently once its
// suspicious-attempt counter reaches threshold.
func NewGuard(client *redis.Client, threshold int64, logger *slog.Logger) *Guard {
	if threshold <= 0 {
		threshold = 10
	}
	return &Guard{
		client:    client,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "reputation")),
	}
}

// CheckStatus reports whether ip is blocked by either the local record
// or the global block list.
func (g *Guard) CheckStatus(ctx context.Context, ip string) (Verdict, error) {
	global, err := g.client.SIsMember(ctx, globalBlockList, ip).Result()
	if err != nil {
		return Verdict{}, fmt.Errorf("global block list check failed: %w", err)
	}
	if global {
		return Verdict{Blocked: true, Reason: "globally blocked"}, nil
	}

	fields, err := g.client.HMGet(ctx, ipKeyPrefix+ip, "isBlocked", "reason").Result()
	if err != nil {
		return Verdict{}, fmt.Errorf("reputation lookup failed: %w", err)
	}
	if blocked, _ := fields[0].(string); blocked == "1" {
		reason, _ := fields[1].(string)
		return Verdict{Blocked: true, Reason: reason}, nil
	}
	return Verdict{}, nil
}

// RegisterSuspiciousAttempt increments the attempt counter for ip,
// creating the record if absent, and blocks the address once the
// threshold is crossed. HINCRBY gives the atomic increment-and-read:
// a read-modify-write here would under-count under concurrent attack
// traffic and delay the ban.
func (g *Guard) RegisterSuspiciousAttempt(ctx context.Context, ip, reason string) error {
	key := ipKeyPrefix + ip
	attempts, err := g.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return fmt.Errorf("attempt increment failed: %w", err)
	}

	fields := map[string]interface{}{
		"ipAddress": ip,
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if attempts >= g.threshold {
		fields["isBlocked"] = "1"
		fields["reason"] = reason
		g.logger.WarnContext(ctx, "ip blocked after repeated suspicious attempts",
			slog.String("ip", ip),
			slog.Int64("attempts", attempts),
			slog.String("reason", reason),
		)
	}
	if err := g.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("reputation update failed: %w", err)
	}
	return nil
}

// Record loads the full reputation record for ip, for reporting.
func (g *Guard) Record(ctx context.Context, ip string) (*domain.IPReputation, error) {
	fields, err := g.client.HGetAll(ctx, ipKeyPrefix+ip).Result()
	if err != nil {
		return nil, fmt.Errorf("reputation lookup failed: %w", err)
	}
	attempts, _ := strconv.ParseInt(fields["attempts"], 10, 64)
	rec := &domain.IPReputation{
		IPAddress: ip,
		IsBlocked: fields["isBlocked"] == "1",
		Reason:    fields["reason"],
		Attempts:  attempts,
	}
	if raw := fields["updatedAt"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, nil
}

// AddToGlobalBlockList inserts ip into the shared block list.
func (g *Guard) AddToGlobalBlockList(ctx context.Context, ip string) error {
	return g.client.SAdd(ctx, globalBlockList, ip).Err()
}
