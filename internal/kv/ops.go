package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

var tracer = otel.Tracer("kv")

// incrWindowScript increments a counter and arms its expiry window on the
// first increment only. Running INCR and EXPIRE as separate commands leaves
// a window where a crash produces a counter that never expires.
const incrWindowScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// startSpan opens a client span for one store operation. Key material is
// deliberately not attached: several key families embed tokens.
func startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kv."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", op),
		),
	)
}

// wrapErr classifies an infrastructure failure so callers can test
// errors.Is(err, domain.ErrUnavailable) without knowing the backend.
func wrapErr(op string, err error) error {
	return errors.Join(fmt.Errorf("kv %s: %w", op, err), domain.ErrUnavailable)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Get returns the value at key. The second return is false when the key
// does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := startSpan(ctx, "GET")
	val, err := c.RDB.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		span.End()
		return "", false, nil
	}
	if err != nil {
		err = wrapErr("GET", err)
		finishSpan(span, err)
		return "", false, err
	}
	span.End()
	return val, true, nil
}

// Set stores value at key. A non-positive ttl means no expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span := startSpan(ctx, "SET")
	if ttl < 0 {
		ttl = 0
	}
	err := c.RDB.Set(ctx, key, value, ttl).Err()
	if err != nil {
		err = wrapErr("SET", err)
	}
	finishSpan(span, err)
	return err
}

// Del removes the given keys. Deleting a missing key is not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "DEL")
	err := c.RDB.Del(ctx, keys...).Err()
	if err != nil {
		err = wrapErr("DEL", err)
	}
	finishSpan(span, err)
	return err
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := startSpan(ctx, "EXISTS")
	n, err := c.RDB.Exists(ctx, key).Result()
	if err != nil {
		err = wrapErr("EXISTS", err)
		finishSpan(span, err)
		return false, err
	}
	span.End()
	return n > 0, nil
}

// Incr atomically increments the integer at key, creating it at 1.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	ctx, span := startSpan(ctx, "INCR")
	n, err := c.RDB.Incr(ctx, key).Result()
	if err != nil {
		err = wrapErr("INCR", err)
		finishSpan(span, err)
		return 0, err
	}
	span.End()
	return n, nil
}

// Expire sets or re-arms the ttl on key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, span := startSpan(ctx, "EXPIRE")
	err := c.RDB.Expire(ctx, key, ttl).Err()
	if err != nil {
		err = wrapErr("EXPIRE", err)
	}
	finishSpan(span, err)
	return err
}

// LPush prepends values to the list at key.
func (c *Client) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "LPUSH")
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	err := c.RDB.LPush(ctx, key, args...).Err()
	if err != nil {
		err = wrapErr("LPUSH", err)
	}
	finishSpan(span, err)
	return err
}

// LTrim keeps only the inclusive range [start, stop] of the list at key.
func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, span := startSpan(ctx, "LTRIM")
	err := c.RDB.LTrim(ctx, key, start, stop).Err()
	if err != nil {
		err = wrapErr("LTRIM", err)
	}
	finishSpan(span, err)
	return err
}

// LRange returns the inclusive range [start, stop] of the list at key.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, span := startSpan(ctx, "LRANGE")
	vals, err := c.RDB.LRange(ctx, key, start, stop).Result()
	if err != nil {
		err = wrapErr("LRANGE", err)
		finishSpan(span, err)
		return nil, err
	}
	span.End()
	return vals, nil
}

// SAdd adds members to the set at key.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "SADD")
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := c.RDB.SAdd(ctx, key, args...).Err()
	if err != nil {
		err = wrapErr("SADD", err)
	}
	finishSpan(span, err)
	return err
}

// SRem removes members from the set at key.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "SREM")
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := c.RDB.SRem(ctx, key, args...).Err()
	if err != nil {
		err = wrapErr("SREM", err)
	}
	finishSpan(span, err)
	return err
}

// SMembers returns all members of the set at key.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, span := startSpan(ctx, "SMEMBERS")
	members, err := c.RDB.SMembers(ctx, key).Result()
	if err != nil {
		err = wrapErr("SMEMBERS", err)
		finishSpan(span, err)
		return nil, err
	}
	span.End()
	return members, nil
}

// ScanPrefix returns every key starting with prefix. Order is unspecified.
func (c *Client) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := startSpan(ctx, "SCAN")
	span.SetAttributes(attribute.String("db.redis.pattern", prefix+"*"))

	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.RDB.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			err = wrapErr("SCAN", err)
			finishSpan(span, err)
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	span.End()
	return keys, nil
}

// IncrWithWindow increments key, arming its expiry window atomically on the
// first increment.
func (c *Client) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, span := startSpan(ctx, "EVAL")
	span.SetAttributes(attribute.String("db.redis.script", "incr_with_window"))

	n, err := c.RDB.Eval(ctx, incrWindowScript, []string{key}, int64(window.Seconds())).Int64()
	if err != nil {
		err = wrapErr("EVAL", err)
		finishSpan(span, err)
		return 0, err
	}
	span.End()
	return n, nil
}

// GetDel reads and deletes key in one round trip. The second return is false
// when the key did not exist (or another caller consumed it first).
func (c *Client) GetDel(ctx context.Context, key string) (string, bool, error) {
	ctx, span := startSpan(ctx, "GETDEL")
	val, err := c.RDB.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		span.End()
		return "", false, nil
	}
	if err != nil {
		err = wrapErr("GETDEL", err)
		finishSpan(span, err)
		return "", false, err
	}
	span.End()
	return val, true, nil
}
