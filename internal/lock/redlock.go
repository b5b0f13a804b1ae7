package redlock

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

type Locker struct {
	client redis.UniversalClient
	key    string
	value  string // Used for ensuring that only the lock holder can unlock or renew the lock
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("lock for key %s is already held", l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}

func (l *Locker) WaitLock(ctx context.Context, lockTimeout, waitTimeout time.Duration) error {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		err := l.Lock(ctx, lockTimeout)
		if err == nil {
			return nil
		}
		// Exponential backoff with jitter
		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
	}
	return fmt.Errorf("failed to acquire lock for key %s within the wait timeout", l.key)
}

// PairLocker locks two wallets for a transfer. Keys are always acquired in
// lexicographic order, independent of transfer direction, so two transfers
// between the same pair in opposite directions cannot deadlock.
type PairLocker struct {
	first  *Locker
	second *Locker
}

func NewPairLocker(client redis.UniversalClient, keyA, keyB, value string) *PairLocker {
	keys := []string{keyA, keyB}
	sort.Strings(keys)
	return &PairLocker{
		first:  NewLocker(client, keys[0], value),
		second: NewLocker(client, keys[1], value),
	}
}

func (p *PairLocker) Lock(ctx context.Context, lockTimeout, waitTimeout time.Duration) error {
	if err := p.first.WaitLock(ctx, lockTimeout, waitTimeout); err != nil {
		return err
	}
	if err := p.second.WaitLock(ctx, lockTimeout, waitTimeout); err != nil {
		_ = p.first.Unlock(ctx)
		return err
	}
	return nil
}

func (p *PairLocker) Unlock(ctx context.Context) error {
	// Release in reverse acquisition order.
	if err := p.second.Unlock(ctx); err != nil {
		_ = p.first.Unlock(ctx)
		return err
	}
	return p.first.Unlock(ctx)
}
