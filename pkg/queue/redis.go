package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "stepflow:queue:"

// Keys of one Redis queue:
//
//	<prefix>messages      HASH id => record
//	<prefix>visible       ZSET id scored by the unix millis it becomes visible
//	<prefix>dead          HASH id => dead-lettered record
//	<prefix>dead:index    ZSET id scored by the unix millis it was dead-lettered
//
// Receive, Ack, Nack and Redrive run as Lua scripts so a delivery is claimed
// by exactly one consumer.
var (
	receiveScript = redis.NewScript(`
local visible, messages, deadData, deadIndex = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local now = tonumber(ARGV[1])
local visibility = tonumber(ARGV[2])
local maxReceive = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local retention = tonumber(ARGV[5])
local delivered = {}

while #delivered < limit do
  local ids = redis.call('ZRANGEBYSCORE', visible, '-inf', now, 'LIMIT', 0, 1)
  if #ids == 0 then
    break
  end

  local id = ids[1]
  local raw = redis.call('HGET', messages, id)
  if not raw then
    redis.call('ZREM', visible, id)
  else
    local record = cjson.decode(raw)
    if record.sent_at + retention <= now then
      redis.call('ZREM', visible, id)
      redis.call('HDEL', messages, id)
    elseif record.receive_count >= maxReceive then
      if record.cause == '' then
        record.cause = ARGV[6]
      end
      record.receipt = ''
      record.dead_lettered_at = now
      redis.call('ZREM', visible, id)
      redis.call('HDEL', messages, id)
      redis.call('HSET', deadData, id, cjson.encode(record))
      redis.call('ZADD', deadIndex, now, id)
    else
      record.receive_count = record.receive_count + 1
      record.receipt = id .. '.' .. ARGV[7 + #delivered]
      local encoded = cjson.encode(record)
      redis.call('HSET', messages, id, encoded)
      redis.call('ZADD', visible, now + visibility, id)
      table.insert(delivered, encoded)
    end
  end
end

return delivered
`)

	ackScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[2], ARGV[1])
if not raw then
  return 0
end

local record = cjson.decode(raw)
if record.receipt ~= ARGV[2] then
  return 0
end

redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])

return 1
`)

	nackScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[2], ARGV[1])
if not raw then
  return 0
end

local record = cjson.decode(raw)
if record.receipt ~= ARGV[2] then
  return 0
end

record.receipt = ''
record.cause = ARGV[3]
redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(record))
redis.call('ZADD', KEYS[1], tonumber(ARGV[4]), ARGV[1])

return 1
`)

	redriveScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[3], ARGV[1])
if not raw then
  return 0
end

local record = cjson.decode(raw)
local now = tonumber(ARGV[2])
record.receive_count = 0
record.receipt = ''
record.cause = ''
record.dead_lettered_at = 0
record.sent_at = now

redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(record))
redis.call('ZADD', KEYS[1], now, ARGV[1])

return 1
`)
)

type redisRecord struct {
	ID             string `json:"id"`
	Body           []byte `json:"body"`
	SentAt         int64  `json:"sent_at"`
	ReceiveCount   int    `json:"receive_count"`
	Receipt        string `json:"receipt"`
	Cause          string `json:"cause"`
	DeadLetteredAt int64  `json:"dead_lettered_at"`
}

// RedisQueue shares one queue between processes through Redis.
type RedisQueue struct {
	client redis.UniversalClient
	config Config
	clock  clockwork.Clock
	prefix string
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client redis.UniversalClient, prefix string, config Config, clock clockwork.Clock) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &RedisQueue{
		client: client,
		config: config.withDefaults(),
		clock:  clock,
		prefix: prefix,
	}
}

// Connect opens a Redis client from a redis:// URL and checks it answers.
func Connect(ctx context.Context, url string) (redis.UniversalClient, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (q *RedisQueue) keyMessages() string  { return q.prefix + "messages" }
func (q *RedisQueue) keyVisible() string   { return q.prefix + "visible" }
func (q *RedisQueue) keyDead() string      { return q.prefix + "dead" }
func (q *RedisQueue) keyDeadIndex() string { return q.prefix + "dead:index" }

func (q *RedisQueue) Send(ctx context.Context, body []byte) (string, error) {
	now := q.clock.Now()
	record := redisRecord{
		ID:     uuid.NewString(),
		Body:   body,
		SentAt: now.UnixMilli(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.keyMessages(), record.ID, data)
	pipe.ZAdd(ctx, q.keyVisible(), redis.Z{Score: float64(now.Add(q.config.DeliveryDelay).UnixMilli()), Member: record.ID})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	return record.ID, nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = q.config.BatchSize
	}

	deadline := q.clock.Now().Add(wait)

	for {
		messages, err := q.receive(ctx, max)
		if err != nil || len(messages) > 0 {
			return messages, err
		}

		remaining := deadline.Sub(q.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.clock.After(min(remaining, pollInterval)):
		}
	}
}

func (q *RedisQueue) receive(ctx context.Context, max int) ([]Message, error) {
	args := []any{
		q.clock.Now().UnixMilli(),
		q.config.VisibilityTimeout.Milliseconds(),
		q.config.MaxReceiveCount,
		max,
		q.config.Retention.Milliseconds(),
		CauseMaxReceive,
	}

	for range max {
		args = append(args, uuid.NewString())
	}

	keys := []string{q.keyVisible(), q.keyMessages(), q.keyDead(), q.keyDeadIndex()}

	raw, err := receiveScript.Run(ctx, q.client, keys, args...).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]Message, 0, len(raw))

	for _, item := range raw {
		var record redisRecord

		err := json.Unmarshal([]byte(item), &record)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}

		messages = append(messages, Message{
			ID:           record.ID,
			Body:         record.Body,
			Receipt:      record.Receipt,
			ReceiveCount: record.ReceiveCount,
			SentAt:       time.UnixMilli(record.SentAt).UTC(),
		})
	}

	return messages, nil
}

func (q *RedisQueue) Ack(ctx context.Context, receipt string) error {
	id, ok := receiptID(receipt)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiptInvalid, receipt)
	}

	done, err := ackScript.Run(ctx, q.client, []string{q.keyVisible(), q.keyMessages()}, id, receipt).Int()
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", id, err)
	}

	if done == 0 {
		return fmt.Errorf("%w: %s", ErrReceiptInvalid, receipt)
	}

	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, receipt, cause string) error {
	id, ok := receiptID(receipt)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiptInvalid, receipt)
	}

	done, err := nackScript.Run(ctx, q.client, []string{q.keyVisible(), q.keyMessages()},
		id, receipt, cause, q.clock.Now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("failed to nack message %s: %w", id, err)
	}

	if done == 0 {
		return fmt.Errorf("%w: %s", ErrReceiptInvalid, receipt)
	}

	return nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	err := q.purgeDeadLetters(ctx)
	if err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := q.client.ZRange(ctx, q.keyDeadIndex(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	if len(ids) == 0 {
		return []DeadLetter{}, nil
	}

	values, err := q.client.HMGet(ctx, q.keyDead(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(values))

	for _, value := range values {
		item, ok := value.(string)
		if !ok {
			continue
		}

		var record redisRecord

		err := json.Unmarshal([]byte(item), &record)
		if err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}

		letters = append(letters, DeadLetter{
			ID:             record.ID,
			Body:           record.Body,
			ReceiveCount:   record.ReceiveCount,
			Cause:          record.Cause,
			SentAt:         time.UnixMilli(record.SentAt).UTC(),
			DeadLetteredAt: time.UnixMilli(record.DeadLetteredAt).UTC(),
		})
	}

	return letters, nil
}

func (q *RedisQueue) purgeDeadLetters(ctx context.Context) error {
	cutoff := q.clock.Now().Add(-q.config.DeadLetterRetention).UnixMilli()

	expired, err := q.client.ZRangeByScore(ctx, q.keyDeadIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to find expired dead letters: %w", err)
	}

	if len(expired) == 0 {
		return nil
	}

	members := make([]any, 0, len(expired))
	for _, id := range expired {
		members = append(members, id)
	}

	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.keyDead(), expired...)
	pipe.ZRem(ctx, q.keyDeadIndex(), members...)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge dead letters: %w", err)
	}

	return nil
}

func (q *RedisQueue) Redrive(ctx context.Context, id string) error {
	keys := []string{q.keyVisible(), q.keyMessages(), q.keyDead(), q.keyDeadIndex()}

	done, err := redriveScript.Run(ctx, q.client, keys, id, q.clock.Now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("failed to redrive %s: %w", id, err)
	}

	if done == 0 {
		return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}

	return nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)

	pipe := q.client.Pipeline()
	visible := pipe.ZCount(ctx, q.keyVisible(), "-inf", now)
	total := pipe.ZCard(ctx, q.keyVisible())
	dead := pipe.ZCard(ctx, q.keyDeadIndex())

	_, err := pipe.Exec(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return Stats{
		Visible:     int(visible.Val()),
		NotVisible:  int(total.Val() - visible.Val()),
		DeadLetters: int(dead.Val()),
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func receiptID(receipt string) (string, bool) {
	id, _, ok := strings.Cut(receipt, ".")

	return id, ok && id != ""
}
