package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/handler"
	"github.com/boddenberg/account-manager-go/internal/infra/cache"
	"github.com/boddenberg/account-manager-go/internal/infra/events"
	"github.com/boddenberg/account-manager-go/internal/infra/lock"
	"github.com/boddenberg/account-manager-go/internal/infra/memstore"
	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/infra/postgres"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
	"github.com/boddenberg/account-manager-go/internal/port"
	"github.com/boddenberg/account-manager-go/internal/service"
)

type backend struct {
	users    port.UserStore
	accounts port.AccountStore
	tx       port.Transactor
	locker   port.Locker
}

func newServer(t *testing.T, b backend) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	userCache := cache.New[domain.AccountUser](time.Minute)
	t.Cleanup(userCache.Close)

	svc := service.NewAccountService(
		cache.NewUserStore(b.users, userCache, metrics),
		b.accounts,
		b.locker,
		b.tx,
		events.Nop{},
		metrics,
		logger,
		service.Options{},
	)
	router := handler.NewRouter(svc, nil, handler.Options{MaxConcurrency: 50, RequestTimeout: 10 * time.Second}, metrics, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type errorBody struct {
	ErrorCode string `json:"errorCode"`
}

type listBody struct {
	Accounts []domain.AccountSummary `json:"accounts"`
}

// runLifecycle exercises create, list and delete end to end for user a,
// using user b to check ownership.
func runLifecycle(t *testing.T, srv *httptest.Server, a, b int64) {
	var first, second domain.AccountView
	if code := call(t, srv, http.MethodPost, "/v1/accounts", map[string]int64{"userId": a, "initialBalance": 0}, &first); code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", code)
	}
	if code := call(t, srv, http.MethodPost, "/v1/accounts", map[string]int64{"userId": a, "initialBalance": 100}, &second); code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", code)
	}
	if first.AccountNumber != "1000000000" || second.AccountNumber != "1000000001" {
		t.Fatalf("unexpected numbers: %s, %s", first.AccountNumber, second.AccountNumber)
	}

	var list listBody
	path := "/v1/accounts?user_id=" + itoa(a)
	if code := call(t, srv, http.MethodGet, path, nil, &list); code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", code)
	}
	if len(list.Accounts) != 2 || list.Accounts[1].Balance != 100 {
		t.Fatalf("unexpected list: %+v", list.Accounts)
	}

	var errBody errorBody
	del := map[string]any{"userId": a, "accountNumber": second.AccountNumber}
	if code := call(t, srv, http.MethodDelete, "/v1/accounts", del, &errBody); code != http.StatusUnprocessableEntity || errBody.ErrorCode != string(domain.CodeAccountNotEmpty) {
		t.Fatalf("delete non-empty: got %d %s", code, errBody.ErrorCode)
	}

	foreign := map[string]any{"userId": b, "accountNumber": first.AccountNumber}
	if code := call(t, srv, http.MethodDelete, "/v1/accounts", foreign, &errBody); code != http.StatusForbidden || errBody.ErrorCode != string(domain.CodeUserAccountMismatch) {
		t.Fatalf("delete foreign: got %d %s", code, errBody.ErrorCode)
	}

	var closed domain.AccountView
	own := map[string]any{"userId": a, "accountNumber": first.AccountNumber}
	if code := call(t, srv, http.MethodDelete, "/v1/accounts", own, &closed); code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", code)
	}
	if closed.UnregisteredAt == nil {
		t.Fatal("expected unregisteredAt")
	}

	if code := call(t, srv, http.MethodDelete, "/v1/accounts", own, &errBody); code != http.StatusUnprocessableEntity || errBody.ErrorCode != string(domain.CodeAccountAlreadyUnregistered) {
		t.Fatalf("second delete: got %d %s", code, errBody.ErrorCode)
	}

	// Numbering is global: user b continues the sequence.
	var third domain.AccountView
	call(t, srv, http.MethodPost, "/v1/accounts", map[string]int64{"userId": b, "initialBalance": 0}, &third)
	if third.AccountNumber != "1000000002" {
		t.Fatalf("expected 1000000002 for second user, got %s", third.AccountNumber)
	}
}

// runConcurrentCap fires more creates than the cap allows for one user.
func runConcurrentCap(t *testing.T, srv *httptest.Server, userID int64) {
	const attempts = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := make(map[int]int)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(map[string]int64{"userId": userID, "initialBalance": 0})
			resp, err := srv.Client().Post(srv.URL+"/v1/accounts", "application/json", bytes.NewReader(body))
			if err != nil {
				t.Errorf("post: %v", err)
				return
			}
			resp.Body.Close()
			code := resp.StatusCode
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusCreated] != domain.DefaultMaxAccountsPerUser {
		t.Fatalf("expected %d creations, got %v", domain.DefaultMaxAccountsPerUser, codes)
	}
	if codes[http.StatusUnprocessableEntity] != attempts-domain.DefaultMaxAccountsPerUser {
		t.Fatalf("expected the rest to hit the cap, got %v", codes)
	}
}

func TestIntegration_InMemory(t *testing.T) {
	store := memstore.New()
	store.PutUser(domain.AccountUser{ID: 12, Name: "Pororo"})
	store.PutUser(domain.AccountUser{ID: 13, Name: "Crong"})
	store.PutUser(domain.AccountUser{ID: 14, Name: "Loopy"})

	srv := newServer(t, backend{users: store, accounts: store, tx: store, locker: lock.NewMemory()})

	t.Run("lifecycle", func(t *testing.T) { runLifecycle(t, srv, 12, 13) })
	t.Run("concurrent cap", func(t *testing.T) { runConcurrentCap(t, srv, 14) })
}

// TestIntegration_PostgresRedis runs the same flow against real backends.
func TestIntegration_PostgresRedis(t *testing.T) {
	dbURL, redisAddr := os.Getenv("TEST_DATABASE_URL"), os.Getenv("TEST_REDIS_ADDR")
	if dbURL == "" || redisAddr == "" {
		t.Skip("TEST_DATABASE_URL and TEST_REDIS_ADDR required")
	}
	ctx := context.Background()
	logger := zap.NewNop()

	pool, err := postgres.Connect(ctx, dbURL, 8)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS account; DROP TABLE IF EXISTS account_user`); err != nil {
		t.Fatalf("reset: %v", err)
	}

	pg := postgres.NewStore(pool,
		resilience.NewCircuitBreaker("integration-postgres", logger),
		resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond},
		observability.NewMetrics(),
		logger,
	)
	if err := pg.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ids := make([]int64, 3)
	for i := range ids {
		u, err := pg.InsertUser(ctx, "user-"+itoa(int64(i)))
		if err != nil {
			t.Fatalf("insert user: %v", err)
		}
		ids[i] = u.ID
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = client.Close() })

	srv := newServer(t, backend{
		users:    pg,
		accounts: pg,
		tx:       pg,
		locker:   lock.NewRedis(client, lock.RedisConfig{}, logger),
	})

	t.Run("lifecycle", func(t *testing.T) { runLifecycle(t, srv, ids[0], ids[1]) })
	t.Run("concurrent cap", func(t *testing.T) { runConcurrentCap(t, srv, ids[2]) })
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
