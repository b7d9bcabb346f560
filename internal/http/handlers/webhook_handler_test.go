package handlers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v76"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/http/handlers"
	"github.com/rolesync/rolesync/internal/identity"
	"github.com/rolesync/rolesync/internal/normalize"
	"github.com/rolesync/rolesync/internal/platform/community"
	"github.com/rolesync/rolesync/internal/reconcile"
	"github.com/rolesync/rolesync/internal/service"
	"github.com/rolesync/rolesync/pkg/auth"
	"github.com/rolesync/rolesync/pkg/config"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testCommandSecret = "command-test-secret"
)

// ---------- Mocks ----------

type stubIdentityRepo struct{ pingErr error }

func (s stubIdentityRepo) Upsert(context.Context, string, string) error { return nil }
func (s stubIdentityRepo) Delete(context.Context, string) error         { return nil }
func (s stubIdentityRepo) FindByEmail(context.Context, string) (*domain.IdentityRecord, error) {
	return nil, nil
}
func (s stubIdentityRepo) List(context.Context) ([]domain.IdentityRecord, error) { return nil, nil }
func (s stubIdentityRepo) Ping(context.Context) error                            { return s.pingErr }

type mockDedup struct {
	seen   map[string]bool
	marked []string
}

func newMockDedup() *mockDedup { return &mockDedup{seen: make(map[string]bool)} }

func (m *mockDedup) Seen(_ context.Context, eventID string) (bool, error) {
	return m.seen[eventID], nil
}

func (m *mockDedup) MarkProcessed(_ context.Context, eventID string) error {
	m.seen[eventID] = true
	m.marked = append(m.marked, eventID)
	return nil
}

type mockReconciler struct {
	grantCalls  []string
	revokeCalls []string
}

func (m *mockReconciler) Grant(_ context.Context, memberID string) (reconcile.Outcome, error) {
	m.grantCalls = append(m.grantCalls, memberID)
	return reconcile.Granted, nil
}

func (m *mockReconciler) Revoke(_ context.Context, memberID string) (reconcile.Outcome, error) {
	m.revokeCalls = append(m.revokeCalls, memberID)
	return reconcile.Revoked, nil
}

type mockResolver struct{ decision domain.EntitlementDecision }

func (m *mockResolver) Resolve(context.Context, string) (domain.EntitlementDecision, error) {
	return m.decision, nil
}

type mockMailer struct{ sentTo []string }

func (m *mockMailer) SendAccessRevokedEmail(toEmail string) error {
	m.sentTo = append(m.sentTo, toEmail)
	return nil
}

type mockCustomerLookup struct{}

func (mockCustomerLookup) CustomerEmail(context.Context, string) (string, error) { return "", nil }

type mockCommunityClient struct{ readyErr error }

func (m *mockCommunityClient) Member(context.Context, string) (*community.Member, error) {
	return nil, community.ErrMemberNotFound
}
func (m *mockCommunityClient) RoleExists(context.Context, string) (bool, error) { return true, nil }
func (m *mockCommunityClient) AddMemberRole(context.Context, string, string) error { return nil }
func (m *mockCommunityClient) RemoveMemberRole(context.Context, string, string) error {
	return nil
}
func (m *mockCommunityClient) DirectMessage(context.Context, string, string) error { return nil }
func (m *mockCommunityClient) Ready(context.Context) error                         { return m.readyErr }

// ---------- Fixture ----------

type fixture struct {
	router     chi.Router
	reconciler *mockReconciler
	dedup      *mockDedup
	mailer     *mockMailer
	engine     *service.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Load()
	cfg.Stripe.WebhookSecret = testWebhookSecret
	cfg.Auth.CommandTokenSecret = testCommandSecret

	store := identity.NewStore(stubIdentityRepo{}, filepath.Join(t.TempDir(), "ids.json"))
	if err := store.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := &mockReconciler{}
	mail := &mockMailer{}
	engine := service.NewEngine(store, &mockResolver{}, rec, mail, nil)

	dedup := newMockDedup()
	h := handlers.New(engine, store, normalize.New(mockCustomerLookup{}), dedup,
		stubIdentityRepo{}, &mockCommunityClient{}, cfg)

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Post("/webhook", h.StripeWebhook)
	r.Route("/commands", func(r chi.Router) {
		r.Use(h.RequireCommandJWT(""))
		r.Post("/verify", h.Verify)
		r.Post("/unverify", h.Unverify)
	})

	return &fixture{router: r, reconciler: rec, dedup: dedup, mailer: mail, engine: engine}
}

func signPayload(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (f *fixture) postWebhook(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func eventJSON(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"api_version":%q,"type":%q,"data":{"object":%s}}`,
		id, stripe.APIVersion, eventType, object))
}

// ---------- Webhook tests ----------

func TestWebhookMissingSignatureRejected(t *testing.T) {
	f := newFixture(t)

	rr := f.postWebhook(t, eventJSON("evt_1", "invoice.payment_failed", `{}`), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
	if len(f.reconciler.revokeCalls) != 0 {
		t.Fatalf("unauthenticated event must not dispatch")
	}
}

func TestWebhookTamperedPayloadRejected(t *testing.T) {
	f := newFixture(t)

	payload := eventJSON("evt_1", "invoice.payment_failed", `{"customer_email":"b@y.com"}`)
	sig := signPayload(payload)
	tampered := bytes.Replace(payload, []byte("b@y.com"), []byte("evil@y.com"), 1)

	rr := f.postWebhook(t, tampered, sig)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
}

func TestWebhookUnconfiguredSecretIs500(t *testing.T) {
	f := newFixture(t)

	cfg := config.Load()
	cfg.Stripe.WebhookSecret = ""
	store := identity.NewStore(stubIdentityRepo{}, filepath.Join(t.TempDir(), "ids.json"))
	_ = store.Reload(context.Background())
	h := handlers.New(f.engine, store, normalize.New(mockCustomerLookup{}), newMockDedup(),
		stubIdentityRepo{}, &mockCommunityClient{}, cfg)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	h.StripeWebhook(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rr.Code)
	}
}

func TestWebhookUnknownKindAcknowledged(t *testing.T) {
	f := newFixture(t)

	payload := eventJSON("evt_1", "charge.refunded", `{"id":"ch_1"}`)
	rr := f.postWebhook(t, payload, signPayload(payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 for forward compatibility", rr.Code)
	}
}

func TestWebhookNoResolvableEmailAcknowledged(t *testing.T) {
	f := newFixture(t)

	payload := eventJSON("evt_1", "invoice.payment_failed", `{}`)
	rr := f.postWebhook(t, payload, signPayload(payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rr.Code)
	}
	if len(f.reconciler.revokeCalls) != 0 {
		t.Fatalf("no grant/revoke may happen without an email")
	}
}

func TestWebhookRevokeEndToEnd(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Verify(context.Background(), "M2", "b@y.com"); err != nil {
		t.Fatal(err)
	}

	payload := eventJSON("evt_1", "invoice.payment_failed", `{"customer_email":"b@y.com"}`)
	rr := f.postWebhook(t, payload, signPayload(payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rr.Code)
	}

	if len(f.reconciler.revokeCalls) != 1 || f.reconciler.revokeCalls[0] != "M2" {
		t.Fatalf("revoke calls = %v; want one for M2", f.reconciler.revokeCalls)
	}
	if len(f.mailer.sentTo) != 1 {
		t.Fatalf("revoke email attempts = %v; want one", f.mailer.sentTo)
	}
	if len(f.dedup.marked) != 1 || f.dedup.marked[0] != "evt_1" {
		t.Fatalf("event not marked processed: %v", f.dedup.marked)
	}
}

func TestWebhookDuplicateDeliverySkipped(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Verify(context.Background(), "M1", "a@x.com"); err != nil {
		t.Fatal(err)
	}

	payload := eventJSON("evt_1", "invoice.payment_succeeded", `{"customer_email":"a@x.com"}`)

	rr := f.postWebhook(t, payload, signPayload(payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rr.Code)
	}

	rr = f.postWebhook(t, payload, signPayload(payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d; want 200", rr.Code)
	}

	if len(f.reconciler.grantCalls) != 1 {
		t.Fatalf("grant calls = %v; duplicate delivery must not dispatch twice", f.reconciler.grantCalls)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "duplicate" {
		t.Fatalf("body = %v; want duplicate", body)
	}
}

// ---------- Command tests ----------

func commandToken(t *testing.T, memberID string) string {
	t.Helper()
	token, err := auth.NewCommandToken(memberID, "", testCommandSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (f *fixture) postCommand(t *testing.T, path, token, email string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email})
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestCommandsRequireToken(t *testing.T) {
	f := newFixture(t)

	rr := f.postCommand(t, "/commands/verify", "", "a@x.com")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", rr.Code)
	}
}

func TestVerifyAndUnverifyOwnership(t *testing.T) {
	f := newFixture(t)

	rr := f.postCommand(t, "/commands/verify", commandToken(t, "M1"), "a@x.com")
	if rr.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rr.Code, rr.Body.String())
	}

	// Another member cannot unlink it.
	rr = f.postCommand(t, "/commands/unverify", commandToken(t, "M2"), "a@x.com")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign unverify status = %d; want 403", rr.Code)
	}

	// The owner can.
	rr = f.postCommand(t, "/commands/unverify", commandToken(t, "M1"), "a@x.com")
	if rr.Code != http.StatusOK {
		t.Fatalf("owner unverify status = %d: %s", rr.Code, rr.Body.String())
	}
}

// ---------- Health ----------

func TestHealthReportsDependencies(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["store"] != "connected" || body["identity_source"] != "ready" {
		t.Fatalf("body = %v", body)
	}
}
