package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"

	"github.com/askgeorge/askgeorge/engine/domain"
)

func turn(i int) domain.Turn {
	return domain.Turn{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)}
}

func TestHistory_BoundedFIFO(t *testing.T) {
	h := NewHistory(0)
	if h.Cap() != DefaultHistoryTurns {
		t.Fatalf("cap = %d", h.Cap())
	}
	for i := 1; i <= 5; i++ {
		h.Add(turn(i))
	}
	got := h.Turns()
	if len(got) != 3 || got[0].Question != "q3" || got[2].Question != "q5" {
		t.Fatalf("turns = %+v", got)
	}
	got[0].Question = "mutated"
	if h.Turns()[0].Question != "q3" {
		t.Fatal("Turns must return a copy")
	}
	h.Clear()
	if h.Len() != 0 {
		t.Fatal("Clear left turns behind")
	}
}

func TestHistory_ZeroValue(t *testing.T) {
	var h History
	h.Add(turn(1))
	if h.Len() != 1 || h.Cap() != DefaultHistoryTurns {
		t.Fatalf("len=%d cap=%d", h.Len(), h.Cap())
	}
}

func TestSession_RecordStampsTime(t *testing.T) {
	s := New("ollama")
	if s.ID == "" || s.Mode != "ollama" {
		t.Fatalf("session = %+v", s)
	}
	s.Record(turn(1), 2)
	s.Record(turn(2), 2)
	s.Record(turn(3), 2)
	if len(s.Turns) != 2 || s.Turns[0].Question != "q2" {
		t.Fatalf("turns = %+v", s.Turns)
	}
	if s.Turns[1].At.IsZero() || s.Updated.Before(s.Created) {
		t.Fatal("timestamps not set")
	}
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	s, err := st.Create(ctx, "claude")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := st.Get(ctx, s.ID)
	if err != nil || got.Mode != "claude" || len(got.Turns) != 0 {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	for i := 1; i <= 4; i++ {
		if _, err := st.Append(ctx, s.ID, turn(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, _ = st.Get(ctx, s.ID)
	if len(got.Turns) != 3 || got.Turns[0].Question != "q2" || got.Turns[2].Answer != "a4" {
		t.Fatalf("history = %+v", got.Turns)
	}

	if err := st.SetMode(ctx, s.ID, "gemini"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if err := st.ClearHistory(ctx, s.ID); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	got, _ = st.Get(ctx, s.ID)
	if got.Mode != "gemini" || len(got.Turns) != 0 {
		t.Fatalf("after clear = %+v", got)
	}

	if err := st.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if _, err := st.Append(ctx, "missing", turn(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Append missing: %v", err)
	}
	if err := st.ClearHistory(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ClearHistory missing: %v", err)
	}
	if err := st.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	st, err := NewMemoryStore(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	storeContract(t, st)
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	st, _ := NewMemoryStore(2, 3)
	ctx := context.Background()
	a, _ := st.Create(ctx, "ollama")
	st.Create(ctx, "ollama")
	st.Create(ctx, "ollama")
	if st.Len() != 2 {
		t.Fatalf("len = %d", st.Len())
	}
	if _, err := st.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest session should be evicted: %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	st, _ := NewMemoryStore(0, 3)
	ctx := context.Background()
	s, _ := st.Create(ctx, "ollama")
	got, _ := st.Append(ctx, s.ID, turn(1))
	got.Turns[0].Question = "mutated"
	again, _ := st.Get(ctx, s.ID)
	if again.Turns[0].Question != "q1" {
		t.Fatal("store state leaked through a returned session")
	}
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	st, _ := NewMemoryStore(0, 50)
	ctx := context.Background()
	s, _ := st.Create(ctx, "ollama")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st.Append(ctx, s.ID, turn(i))
		}(i)
	}
	wg.Wait()
	got, _ := st.Get(ctx, s.ID)
	if len(got.Turns) != 20 {
		t.Fatalf("turns = %d", len(got.Turns))
	}
}

func newRedisStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client, ttl, 3)
}

func TestRedisStore(t *testing.T) {
	_, st := newRedisStore(t, time.Hour)
	storeContract(t, st)
}

func TestRedisStore_KeyAndTTL(t *testing.T) {
	mr, st := newRedisStore(t, time.Minute)
	ctx := context.Background()
	s, err := st.Create(ctx, "ollama")
	if err != nil {
		t.Fatal(err)
	}
	key := "askgeorge:session:" + s.ID
	if !mr.Exists(key) {
		t.Fatalf("key %q missing; keys = %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := st.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session: %v", err)
	}
}

func TestRedisStore_AppendRefreshesTTL(t *testing.T) {
	mr, st := newRedisStore(t, time.Minute)
	ctx := context.Background()
	s, _ := st.Create(ctx, "ollama")
	mr.FastForward(50 * time.Second)
	if _, err := st.Append(ctx, s.ID, turn(1)); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(50 * time.Second)
	got, err := st.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("session expired despite activity: %v", err)
	}
	if len(got.Turns) != 1 {
		t.Fatalf("turns = %+v", got.Turns)
	}
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr, st := newRedisStore(t, time.Minute)
	mr.Set("askgeorge:session:bad", "{not json")
	_, err := st.Get(context.Background(), "bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, st := newRedisStore(t, time.Minute)
	mr.Close()
	if _, err := st.Create(context.Background(), "ollama"); err == nil {
		t.Fatal("expected error with redis down")
	}
}
