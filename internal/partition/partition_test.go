package partition

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var (
	paper    = schema.PartitionKey{AccountID: "acct", Mode: schema.RunModePaper}
	backtest = schema.PartitionKey{AccountID: "acct", Mode: schema.RunModeBacktest}
)

func TestLocalLockerSerializesPartition(t *testing.T) {
	l := NewLocalLocker()
	var inside, peak int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(t.Context(), paper)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, release())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
}

func TestLocalLockerPartitionsAreIndependent(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Lock(t.Context(), paper)
	require.NoError(t, err)

	other, err := l.Lock(t.Context(), backtest)
	require.NoError(t, err)
	require.NoError(t, other())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, paper)
	assert.True(t, errors.Is(err, exception.ErrPartitionBusy))

	require.NoError(t, release())
	require.NoError(t, release())
	again, err := l.Lock(t.Context(), paper)
	require.NoError(t, err)
	require.NoError(t, again())
}

// fakeRedis implements SET NX and the release script over a map.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) compareAndDelete(keys []string, args []any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeRedis) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedis) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func TestRedisLocker(t *testing.T) {
	fake := newFakeRedis()
	l := NewRedisLocker(fake, RedisOption{Retry: time.Millisecond})
	assert.Equal(t, "spotledger:lock:acct/PAPER", l.Key(paper))

	release, err := l.Lock(t.Context(), paper)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, paper)
	assert.True(t, errors.Is(err, exception.ErrPartitionBusy))

	require.NoError(t, release())
	assert.True(t, errors.Is(release(), exception.ErrPartitionBusy))

	again, err := l.Lock(t.Context(), paper)
	require.NoError(t, err)
	fake.keys[l.Key(paper)] = "someone-else"
	assert.True(t, errors.Is(again(), exception.ErrPartitionBusy))
}
