package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ashureev/crmchat/internal/config"
	"github.com/redis/go-redis/v9"
)

// driverCases builds one store per driver so the contract tests run against all of them.
func driverCases(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	stores := map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqliteStore,
		"redis":  NewRedis(client, "test:", 0),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStore_GetMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range driverCases(t) {
		t.Run(name, func(t *testing.T) {
			val, found, err := s.Get(ctx, "client_a", "chat_sessions")
			if err != nil {
				t.Fatalf("Get returned error: %v", err)
			}
			if found || val != nil {
				t.Errorf("Get on missing key = (%q, %v), want (nil, false)", val, found)
			}
		})
	}
}

func TestStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range driverCases(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "client_a", "current_session_id", []byte(`"s1"`)); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := s.Set(ctx, "client_a", "current_session_id", []byte(`"s2"`)); err != nil {
				t.Fatalf("overwrite Set failed: %v", err)
			}

			val, found, err := s.Get(ctx, "client_a", "current_session_id")
			if err != nil || !found {
				t.Fatalf("Get = (found %v, err %v), want found", found, err)
			}
			if string(val) != `"s2"` {
				t.Errorf("Get value = %s, want %s", val, `"s2"`)
			}

			if err := s.Remove(ctx, "client_a", "current_session_id"); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if _, found, _ := s.Get(ctx, "client_a", "current_session_id"); found {
				t.Error("key still present after Remove")
			}
			if err := s.Remove(ctx, "client_a", "current_session_id"); err != nil {
				t.Errorf("Remove of absent key returned error: %v", err)
			}
		})
	}
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, s := range driverCases(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Set(ctx, "client_a", "active_user", []byte("a"))
			_ = s.Set(ctx, "client_b", "active_user", []byte("b"))
			_ = s.Set(ctx, "client_b", "chat_sessions", []byte("{}"))

			val, _, _ := s.Get(ctx, "client_a", "active_user")
			if string(val) != "a" {
				t.Errorf("client_a active_user = %s, want a", val)
			}

			got, err := s.Namespaces(ctx)
			if err != nil {
				t.Fatalf("Namespaces failed: %v", err)
			}
			want := []string{"client_a", "client_b"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Namespaces = %v, want %v", got, want)
			}
		})
	}
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	in := []byte("hello")
	_ = s.Set(ctx, "ns", "k", in)
	in[0] = 'j'

	out, _, _ := s.Get(ctx, "ns", "k")
	if string(out) != "hello" {
		t.Errorf("stored value mutated through caller slice: %s", out)
	}
	out[0] = 'y'
	again, _, _ := s.Get(ctx, "ns", "k")
	if string(again) != "hello" {
		t.Errorf("stored value mutated through returned slice: %s", again)
	}
}

func TestMemoryStore_ClosedReportsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_ = s.Close()

	_, _, err := s.Get(ctx, "ns", "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get after Close error = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close error = %v, want ErrClosed in chain", err)
	}

	var se *StorageError
	if !errors.As(s.Set(ctx, "ns", "k", nil), &se) {
		t.Fatal("Set after Close did not return *StorageError")
	}
	if se.Op != "set" || se.Namespace != "ns" || se.Key != "k" {
		t.Errorf("StorageError = %+v, want op=set ns=ns key=k", se)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "kv.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := s.Set(ctx, "client_a", "chat_sessions", []byte(`{"s1":{}}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_ = s.Close()

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	val, found, err := reopened.Get(ctx, "client_a", "chat_sessions")
	if err != nil || !found {
		t.Fatalf("Get after reopen = (found %v, err %v)", found, err)
	}
	if string(val) != `{"s1":{}}` {
		t.Errorf("value after reopen = %s", val)
	}
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, "", time.Hour)
	defer s.Close()

	if err := s.Set(ctx, "client_a", "active_user", []byte("{}")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	key := DefaultRedisPrefix + "client_a:active_user"
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("TTL after Set = %v, want 1h", ttl)
	}

	mr.FastForward(30 * time.Minute)
	if _, found, _ := s.Get(ctx, "client_a", "active_user"); !found {
		t.Fatal("key expired early")
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("TTL after Get = %v, want refreshed to 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, found, _ := s.Get(ctx, "client_a", "active_user"); found {
		t.Error("key still present after expiry")
	}
}

func TestRedisStore_UnreachableIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewRedis(client, "test:", 0)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, _, err := s.Get(ctx, "ns", "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get error = %v, want ErrUnavailable", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping error = %v, want ErrUnavailable", err)
	}
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tests := []struct {
		name    string
		driver  Driver
		opts    []Option
		wantErr error
	}{
		{name: "memory", driver: DriverMemory},
		{name: "sqlite", driver: DriverSQLite, opts: []Option{WithSQLitePath(filepath.Join(t.TempDir(), "kv.db"))}},
		{name: "sqlite without path", driver: DriverSQLite, wantErr: ErrInvalidConfig},
		{name: "redis", driver: DriverRedis, opts: []Option{WithRedisClient(client), WithRedisPrefix("x:"), WithRedisTTL(time.Minute)}},
		{name: "redis without client", driver: DriverRedis, wantErr: ErrInvalidConfig},
		{name: "unknown", driver: Driver("etcd"), wantErr: ErrInvalidDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.driver, tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New error = %v, want %v", err, tt.wantErr)
				}
				if s != nil {
					t.Errorf("New returned non-nil store on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := s.Ping(context.Background()); err != nil {
				t.Errorf("Ping failed: %v", err)
			}
			// Redis client shared with other cases; closing it is fine at the end of the test.
			if tt.driver != DriverRedis {
				_ = s.Close()
			}
		})
	}
}

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := isSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("isSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithBusyRetry(t *testing.T) {
	calls := 0
	err := withBusyRetry(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withBusyRetry returned %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = withBusyRetry(context.Background(), "test", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("non-busy error: err=%v calls=%d, want permanent after 1 call", err, calls)
	}
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.StoreConfig
		want    any
		wantErr error
	}{
		{"memory", config.StoreConfig{Driver: "memory"}, &MemoryStore{}, nil},
		{"sqlite", config.StoreConfig{Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "open.db")}, &SQLiteStore{}, nil},
		{"redis", config.StoreConfig{Driver: "redis", Redis: config.RedisConfig{Addr: mr.Addr(), Prefix: "open:"}}, &RedisStore{}, nil},
		{"unknown", config.StoreConfig{Driver: "mongo"}, nil, ErrInvalidDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()
			if reflect.TypeOf(s) != reflect.TypeOf(tt.want) {
				t.Errorf("Open() type = %T, want %T", s, tt.want)
			}
			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
		})
	}
}

func TestRedisStore_Lock(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", 0)
	defer s.Close()
	ctx := context.Background()

	release, err := s.Lock(ctx, "client_a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(short, "client_a"); !errors.Is(err, ErrLockTimeout) || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second Lock error = %v, want ErrLockTimeout", err)
	}

	other, err := s.Lock(ctx, "client_b")
	if err != nil {
		t.Fatalf("Lock on another namespace failed: %v", err)
	}
	other()

	if ns, _ := s.Namespaces(ctx); len(ns) != 0 {
		t.Errorf("Namespaces = %v, lock keys must not count", ns)
	}

	release()
	again, err := s.Lock(ctx, "client_a")
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	again()
}

func TestRedisStore_LockLeaseExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", 0)
	defer s.Close()
	ctx := context.Background()

	stale, err := s.Lock(ctx, "client_a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	mr.FastForward(lockLease + time.Second)

	fresh, err := s.Lock(ctx, "client_a")
	if err != nil {
		t.Fatalf("Lock after lease expiry failed: %v", err)
	}
	// The expired holder must not release the new lease.
	stale()
	if !mr.Exists("test:client_a:" + lockKey) {
		t.Fatal("stale release removed the current lease")
	}
	fresh()
	if mr.Exists("test:client_a:" + lockKey) {
		t.Error("lease still present after release")
	}
}
