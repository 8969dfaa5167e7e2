package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
	"github.com/assetforge/assetforge-backend/internal/utils"
)

// QuotaService gates credential issuance. Counters live in Redis so every
// replica enforces the same per-identity limits; a denied reservation leaves
// the counters untouched.
type QuotaService interface {
	Reserve(ctx context.Context, ownerID uuid.UUID, declaredBytes int64) error
	// Release compensates a reservation after an asset is deleted or an
	// abandoned upload is reaped. The only permitted retroactive adjustment.
	Release(ctx context.Context, ownerID uuid.UUID, bytes int64) error
	MaxObjectBytes() int64
}

type quotaService struct {
	log *logger.Logger
	rdb *goredis.Client

	rateLimit      int
	rateWindow     time.Duration
	quotaBytes     int64
	maxObjectBytes int64
}

// reserveScript applies the rate and byte checks atomically and rolls back
// its own increments on denial, so a deny has no net effect.
var reserveScript = goredis.NewScript(`
local rate = redis.call('INCR', KEYS[1])
if rate == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if rate > tonumber(ARGV[2]) then
  redis.call('DECR', KEYS[1])
  local ttl = redis.call('PTTL', KEYS[1])
  return {'rate', ttl}
end
local bytes = redis.call('INCRBY', KEYS[2], ARGV[3])
if bytes > tonumber(ARGV[4]) then
  redis.call('DECRBY', KEYS[2], ARGV[3])
  redis.call('DECR', KEYS[1])
  return {'quota', 0}
end
return {'ok', 0}
`)

var releaseScript = goredis.NewScript(`
local bytes = redis.call('DECRBY', KEYS[1], ARGV[1])
if bytes < 0 then
  redis.call('SET', KEYS[1], 0)
end
return bytes
`)

func NewQuotaService(rdb *goredis.Client, baseLog *logger.Logger) QuotaService {
	log := baseLog.With("service", "QuotaService")
	return &quotaService{
		log:            log,
		rdb:            rdb,
		rateLimit:      utils.GetEnvAsInt("UPLOAD_RATE_LIMIT", 30, log),
		rateWindow:     utils.GetEnvAsDuration("UPLOAD_RATE_WINDOW", time.Minute, log),
		quotaBytes:     utils.GetEnvAsInt64("STORAGE_QUOTA_BYTES", 10<<30, log),
		maxObjectBytes: utils.GetEnvAsInt64("MAX_OBJECT_BYTES", 100<<20, log),
	}
}

func (s *quotaService) MaxObjectBytes() int64 { return s.maxObjectBytes }

func rateKey(ownerID uuid.UUID) string  { return "quota:rate:" + ownerID.String() }
func bytesKey(ownerID uuid.UUID) string { return "quota:bytes:" + ownerID.String() }

func (s *quotaService) Reserve(ctx context.Context, ownerID uuid.UUID, declaredBytes int64) error {
	if declaredBytes <= 0 {
		return apierr.InvalidArgument("declared size must be positive")
	}
	if declaredBytes > s.maxObjectBytes {
		return apierr.ObjectTooLarge(s.maxObjectBytes)
	}

	res, err := reserveScript.Run(ctx, s.rdb,
		[]string{rateKey(ownerID), bytesKey(ownerID)},
		s.rateWindow.Milliseconds(),
		s.rateLimit,
		declaredBytes,
		s.quotaBytes,
	).Result()
	if err != nil {
		return fmt.Errorf("quota reserve: %w", err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return fmt.Errorf("quota reserve: unexpected script result %v", res)
	}
	switch parts[0] {
	case "ok":
		return nil
	case "rate":
		resetMs, _ := parts[1].(int64)
		if resetMs < 0 {
			resetMs = s.rateWindow.Milliseconds()
		}
		s.log.Debug("Upload rate limited", "owner_user_id", ownerID, "limit", s.rateLimit)
		return apierr.RateLimited(s.rateLimit, resetMs/1000)
	case "quota":
		s.log.Debug("Storage quota exceeded", "owner_user_id", ownerID, "quota_bytes", s.quotaBytes)
		return apierr.QuotaExceeded(s.quotaBytes)
	default:
		return fmt.Errorf("quota reserve: unexpected outcome %v", parts[0])
	}
}

func (s *quotaService) Release(ctx context.Context, ownerID uuid.UUID, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if err := releaseScript.Run(ctx, s.rdb, []string{bytesKey(ownerID)}, bytes).Err(); err != nil {
		return fmt.Errorf("quota release: %w", err)
	}
	return nil
}
