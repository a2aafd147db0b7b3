package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"smallbiznis-academy/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator hands out short human readable codes.
type Generator interface {
	NextSessionCode(ctx context.Context) (string, error)
	NextEnrollmentCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (g *RedisGenerator) NextSessionCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "SES")
}

func (g *RedisGenerator) NextEnrollmentCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "ENR")
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := g.now()
	today := now.Format("060102")
	key := rediskey.BuildDailySequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		// keep the counter until the end of the day
		_ = g.rdb.ExpireAt(ctx, key, now.Truncate(24*time.Hour).Add(24*time.Hour)).Err()
	}

	return Format(prefix, today, seq)
}

// Format renders prefix-yymmdd-SEQxx where SEQ is base36, padded to 3, and xx is random.
func Format(prefix, day string, seq int64) (string, error) {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 3 {
		encoded = strings.Repeat("0", 3-len(encoded)) + encoded
	}

	suffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encoded, suffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
