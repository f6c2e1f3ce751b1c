package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billing-service/internal/config"
	"billing-service/internal/model"
	"billing-service/internal/repository"
	"billing-service/internal/testutil"

	"github.com/golang-jwt/jwt/v5"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret"

type mapCache map[uint]map[string]int64

func (m mapCache) Get(id uint) (map[string]int64, bool) {
	v, ok := m[id]
	return v, ok
}

func token(t *testing.T, role, secret string, expires time.Time) string {
	t.Helper()
	claims := &Claims{
		UserID: "u1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newTestAPI(t *testing.T, ledger Ledger, events Events, cache BalanceCache) *API {
	t.Helper()
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return New(config.HTTPConfig{AllowedOrigins: []string{"*"}}, testJWTSecret, ledger, events, cache, webhook, testutil.Logger())
}

func get(h http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	a := newTestAPI(t, nil, nil, mapCache{})
	w := get(a.Handler(), "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRouteIsPublic(t *testing.T) {
	a := newTestAPI(t, nil, nil, mapCache{})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", nil)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestLedgerRequiresModerator(t *testing.T) {
	a := newTestAPI(t, nil, nil, mapCache{})
	h := a.Handler()

	cases := []struct {
		name   string
		bearer string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong secret", token(t, RoleAdmin, "other", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", token(t, RoleAdmin, testJWTSecret, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"member", token(t, "member", testJWTSecret, time.Now().Add(time.Hour)), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(h, "/api/memberships/1/balance", tc.bearer)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestLedgerEndpoints(t *testing.T) {
	db := testutil.OpenDB(t)
	membership, parts := testutil.Seed(t, db, "PLN", "30.00")
	require.NoError(t, db.Create(&model.Payment{ParticipationID: parts[0].ID, Amount: 3000, Currency: "PLN", GatewayReference: "pi_1"}).Error)
	require.NoError(t, db.Create(&model.MembershipBalance{MembershipID: membership.ID, Amount: 1250, Currency: "PLN", GatewayReference: "pi_1"}).Error)

	ledger := repository.NewLedgerRepository(db, testutil.Logger())
	events := repository.NewEventRepository(db, testutil.Logger())
	require.NoError(t, db.Create(&model.ProcessedEvent{Provider: repository.ProviderStripe, Reference: "pi_1", EventType: "payment_intent.succeeded"}).Error)
	cache := mapCache{membership.ID: {"PLN": 1250}}
	h := newTestAPI(t, ledger, events, cache).Handler()
	bearer := token(t, RoleModerator, testJWTSecret, time.Now().Add(time.Hour))

	var entries []ledgerEntry

	w := get(h, "/api/participations/"+itoa(parts[0].ID)+"/payments", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "30.00 PLN", entries[0].Display)
	assert.Equal(t, "pi_1", entries[0].GatewayReference)

	w = get(h, "/api/memberships/"+itoa(membership.ID)+"/payments", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	w = get(h, "/api/memberships/"+itoa(membership.ID)+"/balances", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1250), entries[0].Amount)

	w = get(h, "/api/memberships/"+itoa(membership.ID)+"/balance", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		Totals  map[string]int64  `json:"totals"`
		Display map[string]string `json:"display"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, int64(1250), balance.Totals["PLN"])
	assert.Equal(t, "12.50 PLN", balance.Display["PLN"])

	var ref struct {
		Processed bool `json:"processed"`
	}
	w = get(h, "/api/gateway/stripe/pi_1", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ref))
	assert.True(t, ref.Processed)

	w = get(h, "/api/gateway/stripe/pi_unknown", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ref))
	assert.False(t, ref.Processed)
}

func TestBalanceFallsBackToLedgerOnCacheMiss(t *testing.T) {
	db := testutil.OpenDB(t)
	membership, _ := testutil.Seed(t, db, "PLN", "30.00")
	require.NoError(t, db.Create(&[]model.MembershipBalance{
		{MembershipID: membership.ID, Amount: 1000, Currency: "PLN", GatewayReference: "pi_1"},
		{MembershipID: membership.ID, Amount: 250, Currency: "PLN", GatewayReference: "pi_2"},
	}).Error)

	ledger := repository.NewLedgerRepository(db, testutil.Logger())
	h := newTestAPI(t, ledger, nil, mapCache{}).Handler()
	bearer := token(t, RoleAdmin, testJWTSecret, time.Now().Add(time.Hour))

	w := get(h, "/api/memberships/"+itoa(membership.ID)+"/balance", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		Totals map[string]int64 `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, map[string]int64{"PLN": 1250}, balance.Totals)
}

type failingLedger struct{}

func (failingLedger) PaymentsByParticipation(ctx context.Context, id uint) ([]model.Payment, error) {
	return nil, errors.New("db down")
}

func (failingLedger) PaymentsByMembership(ctx context.Context, id uint) ([]model.Payment, error) {
	return nil, errors.New("db down")
}

func (failingLedger) BalancesByMembership(ctx context.Context, id uint) ([]model.MembershipBalance, error) {
	return nil, errors.New("db down")
}

func (failingLedger) MembershipBalanceTotals(ctx context.Context, id uint) ([]model.BalanceTotal, error) {
	return nil, errors.New("db down")
}

func TestHandlerErrorsLogCaller(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := New(config.HTTPConfig{AllowedOrigins: []string{"*"}}, testJWTSecret, failingLedger{}, nil, mapCache{}, webhook, log).Handler()

	w := get(h, "/api/memberships/3/payments", token(t, RoleModerator, testJWTSecret, time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "u1", entry.Data["user_id"])
	assert.Equal(t, RoleModerator, entry.Data["role"])
	assert.Equal(t, "failed to list payments", entry.Message)
}

func TestClaimsFromContext(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)
}
