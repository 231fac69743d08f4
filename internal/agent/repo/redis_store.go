package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/dulus-bm/server/internal/agent/model"
	errx "github.com/dulus-bm/server/internal/core/error"
	logx "github.com/dulus-bm/server/pkg/logger"
)

const maxWatchRetries = 3

const (
	kindTasks    = "tasks"
	kindClients  = "clients"
	kindInvoices = "invoices"
	kindQuotes   = "quotes"
	kindStock    = "stock"
)

// RedisStore keeps each user's records as JSON values in per-kind hashes, with
// a companion list preserving creation order and a capped activity list.
type RedisStore struct {
	rdb  redis.UniversalClient
	opts Options
}

func NewRedisStore(rdb redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{rdb: rdb, opts: opts.withDefaults()}
}

// userTag is the user segment of every key. The id is escaped so no user id
// can spell another user's key, and braced so a user's keys share one
// cluster slot.
func userTag(userID string) string {
	return "{" + url.QueryEscape(userID) + "}"
}

func recordsKey(userID, kind string) string {
	return fmt.Sprintf("dbm:user:%s:%s", userTag(userID), kind)
}

func orderKey(userID, kind string) string {
	return fmt.Sprintf("dbm:user:%s:%s:order", userTag(userID), kind)
}

func sequenceKey(userID, kind string) string {
	return fmt.Sprintf("dbm:user:%s:seq:%s", userTag(userID), kind)
}

func activityKey(userID string) string {
	return fmt.Sprintf("dbm:user:%s:activity", userTag(userID))
}

func wrap(err error) error {
	var appErr *errx.Error
	if errors.As(err, &appErr) {
		return err
	}
	return errx.WrapRedis(err)
}

func (s *RedisStore) pushActivity(ctx context.Context, pipe redis.Pipeliner, a model.Activity) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	key := activityKey(a.UserID)
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, int64(s.opts.ActivityLimit-1))
	return nil
}

// insert writes a new record, its order entry and an activity entry atomically.
func (s *RedisStore) insert(ctx context.Context, userID, kind, id string, rec any, a model.Activity) error {
	b, err := json.Marshal(rec)
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Str("kind", kind).Msg("failed to marshal record")
		return fmt.Errorf("marshal %s record: %w", kind, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordsKey(userID, kind), id, b)
		pipe.RPush(ctx, orderKey(userID, kind), id)
		return s.pushActivity(ctx, pipe, a)
	})
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Str("kind", kind).Msg("failed to write record to redis")
		return wrap(err)
	}
	return nil
}

func listRecords[T any](ctx context.Context, rdb redis.Cmdable, userID, kind string) ([]T, error) {
	out := []T{}
	ids, err := rdb.LRange(ctx, orderKey(userID, kind), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return out, nil
		}
		logx.Error().Err(err).Str("user_id", userID).Str("kind", kind).Msg("failed to load record order from redis")
		return nil, errx.WrapRedis(err)
	}
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := rdb.HMGet(ctx, recordsKey(userID, kind), ids...).Result()
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Str("kind", kind).Msg("failed to load records from redis")
		return nil, errx.WrapRedis(err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			logx.Warn().Str("user_id", userID).Str("kind", kind).Str("id", ids[i]).Msg("order entry without record; skipping")
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logx.Error().Err(err).Str("user_id", userID).Str("kind", kind).Int("index", i).Msg("failed to unmarshal record")
			return nil, fmt.Errorf("unmarshal %s record at index %d: %w", kind, i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) nextSequence(ctx context.Context, userID, kind string) (int64, error) {
	n, err := s.rdb.Incr(ctx, sequenceKey(userID, kind)).Result()
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Str("kind", kind).Msg("failed to increment sequence")
		return 0, errx.WrapRedis(err)
	}
	return n, nil
}

func (s *RedisStore) requireClient(ctx context.Context, userID, clientID string) error {
	ok, err := s.rdb.HExists(ctx, recordsKey(userID, kindClients), clientID).Result()
	if err != nil {
		return errx.WrapRedis(err)
	}
	if !ok {
		return errx.NotFound("client %q not found", clientID)
	}
	return nil
}

func (s *RedisStore) CreateTask(ctx context.Context, userID, description, dueDate string) (*model.Task, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	t := s.opts.newTask(userID, description, dueDate)
	a := s.opts.newActivity(userID, "task", t.ID, fmt.Sprintf("Task added: %s", t.Description))
	if err := s.insert(ctx, userID, kindTasks, t.ID, t, a); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return listRecords[model.Task](ctx, s.rdb, userID, kindTasks)
}

func (s *RedisStore) CreateClient(ctx context.Context, userID, name, email, phone, address string) (*model.Client, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	c := s.opts.newClient(userID, name, email, phone, address)
	a := s.opts.newActivity(userID, "client", c.ID, fmt.Sprintf("New client: %s", c.Name))
	if err := s.insert(ctx, userID, kindClients, c.ID, c, a); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RedisStore) ListClients(ctx context.Context, userID string) ([]model.Client, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return listRecords[model.Client](ctx, s.rdb, userID, kindClients)
}

func (s *RedisStore) CreateInvoice(ctx context.Context, userID, clientID string, amount float64, dueDate string) (*model.Invoice, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := s.requireClient(ctx, userID, clientID); err != nil {
		return nil, err
	}
	seq, err := s.nextSequence(ctx, userID, kindInvoices)
	if err != nil {
		return nil, err
	}
	inv := s.opts.newInvoice(userID, clientID, amount, dueDate, seq)
	a := s.opts.newActivity(userID, "invoice", inv.ID,
		fmt.Sprintf("Invoice %s created for %s", inv.InvoiceNumber, formatAmount(inv.Amount, inv.Currency)))
	if err := s.insert(ctx, userID, kindInvoices, inv.ID, inv, a); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *RedisStore) CreateQuote(ctx context.Context, userID, clientID string, amount float64) (*model.Quote, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := s.requireClient(ctx, userID, clientID); err != nil {
		return nil, err
	}
	seq, err := s.nextSequence(ctx, userID, kindQuotes)
	if err != nil {
		return nil, err
	}
	q := s.opts.newQuote(userID, clientID, amount, seq)
	a := s.opts.newActivity(userID, "quote", q.ID,
		fmt.Sprintf("Quote %s created for %s", q.QuoteNumber, formatAmount(q.Amount, s.opts.Currency)))
	if err := s.insert(ctx, userID, kindQuotes, q.ID, q, a); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *RedisStore) ListStock(ctx context.Context, userID string) ([]model.StockItem, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return listRecords[model.StockItem](ctx, s.rdb, userID, kindStock)
}

// UpdateStock rewrites the item's quantity under WATCH so concurrent updates
// to the same user's stock cannot interleave their read-modify-write.
func (s *RedisStore) UpdateStock(ctx context.Context, userID, stockItemID string, quantity float64) (*model.StockItem, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	key := recordsKey(userID, kindStock)

	var updated model.StockItem
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, stockItemID).Result()
		if errors.Is(err, redis.Nil) {
			return errx.NotFound("stock item %q not found", stockItemID)
		}
		if err != nil {
			return err
		}
		var item model.StockItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return fmt.Errorf("unmarshal stock item %q: %w", stockItemID, err)
		}
		item.Quantity = quantity
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal stock item %q: %w", stockItemID, err)
		}
		a := s.opts.newActivity(userID, "stock", item.ID, fmt.Sprintf("Stock updated: %s now %g", item.Name, item.Quantity))
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, stockItemID, b)
			return s.pushActivity(ctx, pipe, a)
		})
		if err == nil {
			updated = item
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			logx.Warn().Str("user_id", userID).Str("stock_item_id", stockItemID).Int("attempt", i+1).Msg("stock update conflicted; retrying")
			continue
		}
		if err != nil {
			logx.Error().Err(err).Str("user_id", userID).Str("stock_item_id", stockItemID).Msg("failed to update stock")
			return nil, wrap(err)
		}
		return &updated, nil
	}
	return nil, errx.New(errx.KindDomainOperation, redis.TxFailedErr, "stock update kept conflicting")
}

func (s *RedisStore) CreateStockItem(ctx context.Context, userID string, item model.StockItem) (*model.StockItem, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	item.ID = s.opts.NewID("item")
	item.UserID = userID
	a := s.opts.newActivity(userID, "stock", item.ID, fmt.Sprintf("Stock item added: %s", item.Name))
	if err := s.insert(ctx, userID, kindStock, item.ID, item, a); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *RedisStore) RecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.opts.ActivityLimit {
		limit = s.opts.ActivityLimit
	}
	key := activityKey(userID)
	rows, err := s.rdb.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to load activity from redis")
		return nil, errx.WrapRedis(err)
	}
	out := make([]model.Activity, 0, len(rows))
	for i, row := range rows {
		var a model.Activity
		if err := json.Unmarshal([]byte(row), &a); err != nil {
			logx.Error().Err(err).Str("key", key).Int("index", i).Msg("failed to unmarshal activity")
			return nil, fmt.Errorf("unmarshal activity at index %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

var _ model.Store = (*RedisStore)(nil)
