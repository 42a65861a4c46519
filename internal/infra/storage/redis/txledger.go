package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/txledger"

	"github.com/redis/go-redis/v9"
)

// txledgerSeenKey is the Redis key of the seen-transaction set for one
// (domain, network) pair. The bare "{domain}-{network}" format carries over
// from existing deployments' key-value entries and must not change.
func txledgerSeenKey(domain, network string) string {
	return txledger.Key(domain, network)
}

// txledgerCursorKey is the Redis key of the page cursor for one
// (domain, network) pair:
//
//	"{domain}-{network}:cursor"
func txledgerCursorKey(domain, network string) string {
	return fmt.Sprintf("%s:cursor", txledger.Key(domain, network))
}

// Cursor returns the offset at which the next transaction-search page
// begins, zero when the pair has never committed a page.
func (c *client) Cursor(ctx context.Context, domain, network string) (uint64, error) {
	cursor, err := c.conn.Get(ctx, txledgerCursorKey(domain, network)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return cursor, err
}

// Cardinality returns the exact number of distinct transaction hashes ever
// committed for the pair.
func (c *client) Cardinality(ctx context.Context, domain, network string) (uint64, error) {
	card, err := c.conn.SCard(ctx, txledgerSeenKey(domain, network)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(card), nil
}

// FilterNew returns, in input order, the subset of hashes not committed yet.
func (c *client) FilterNew(ctx context.Context, domain, network string, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	members := make([]any, len(hashes))
	for i, hash := range hashes {
		members[i] = hash
	}

	seen, err := c.conn.SMIsMember(ctx, txledgerSeenKey(domain, network), members...).Result()
	if err != nil {
		return nil, err
	}

	fresh := make([]string, 0, len(hashes))
	for i, hash := range hashes {
		if !seen[i] {
			fresh = append(fresh, hash)
		}
	}
	return fresh, nil
}

// Commit records a fully processed page: the page's hashes join the seen set
// and the cursor advances by pageLen, both in one transactional pipeline so
// a half-applied commit cannot desynchronize set and cursor.
func (c *client) Commit(ctx context.Context, domain, network string, hashes []string, pageLen uint64) error {
	pipe := c.conn.TxPipeline()

	if len(hashes) > 0 {
		members := make([]any, len(hashes))
		for i, hash := range hashes {
			members[i] = hash
		}
		pipe.SAdd(ctx, txledgerSeenKey(domain, network), members...)
	}
	pipe.IncrBy(ctx, txledgerCursorKey(domain, network), int64(pageLen))

	_, err := pipe.Exec(ctx)
	return err
}

// Flush resets both the seen set and the cursor for the pair.
func (c *client) Flush(ctx context.Context, domain, network string) error {
	return c.conn.Del(ctx,
		txledgerSeenKey(domain, network),
		txledgerCursorKey(domain, network),
	).Err()
}

// Compile-time assertion to ensure client implements the Ledger interface.
var _ txledger.Ledger = new(client)
