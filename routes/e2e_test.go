package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"blafast-backend/config"
	"blafast-backend/controllers"
	"blafast-backend/deferral"
	"blafast-backend/middlewares"
	"blafast-backend/models"
	"blafast-backend/queue"
	"blafast-backend/routes"
	"blafast-backend/store"
	"blafast-backend/worker"

	"github.com/gofiber/fiber/v2"
)

func TestMain(m *testing.M) {
	os.Setenv("JWT_SECRET_KEY", "e2e-test-secret")
	os.Exit(m.Run())
}

type fixture struct {
	app   *fiber.App
	store *store.Memory
	queue *queue.Memory
	wrk   *worker.Worker
}

func newFixture(t *testing.T, rules ...models.EndpointRule) *fixture {
	t.Helper()

	st := store.NewMemory()
	base := time.Now().Add(-time.Hour)
	for i, r := range rules {
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		st.AddRule(r)
	}

	cache := deferral.NewRuleCache(st)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("rule refresh failed: %v", err)
	}

	q := queue.NewMemory(16)
	cfg := config.Deferred{
		DefaultTimeoutSeconds: 300,
		DefaultResultTTL:      3600,
		DefaultPriority:       "default",
		MaxAttempts:           3,
		HeaderAllowList:       []string{"accept", "content-type", "x-organization-id", "accept-language"},
	}

	members := middlewares.MembershipCheckerFunc(func(ctx context.Context, organizationID, userID string) (bool, error) {
		return organizationID == "org-1" && (userID == "user-1" || userID == "user-2"), nil
	})

	app := routes.NewApp(routes.Deps{
		Members:           members,
		Rules:             cache,
		Dispatcher:        &deferral.Dispatcher{Store: st, Queue: q, Cfg: cfg},
		Deferred:          &controllers.DeferredController{Store: st},
		RuleCtl:           &controllers.RuleController{Rules: cache},
		Reports:           &controllers.ReportController{Store: st},
		DisableAuthRoutes: true,
	})

	wrk := &worker.Worker{
		Store:    st,
		Queue:    q,
		Executor: &worker.FiberExecutor{App: app},
		Consumer: "e2e-worker",
	}

	return &fixture{app: app, store: st, queue: q, wrk: wrk}
}

func (f *fixture) do(t *testing.T, method, path, userID string, headers map[string]string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	token, err := middlewares.GenerateJWT(userID, false)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	resp.Body.Close()
	return resp, decoded
}

func reportRule() models.EndpointRule {
	return models.EndpointRule{
		HttpMethod:       "POST",
		EndpointPattern:  "api/v1/reports/*",
		IsActive:         true,
		ForceDeferred:    false,
		Priority:         models.PriorityHigh,
		TimeoutSeconds:   300,
		ResultTtlSeconds: 3600,
	}
}

func TestDeferredReportEndToEnd(t *testing.T) {
	f := newFixture(t, reportRule())
	orgHeaders := map[string]string{
		deferral.HeaderOrganization: "org-1",
		deferral.HeaderDefer:        "true",
	}

	// 1) opt-in POST is accepted, not executed
	resp, body := f.do(t, "POST", "/api/v1/reports/generate", "user-1", orgHeaders, []byte(`{}`))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("202 response must carry the deferred request id")
	}
	if body["status"] != string(models.StatusPending) {
		t.Errorf("status = %v, want pending", body["status"])
	}
	links, _ := body["links"].(map[string]any)
	if self, _ := links["self"].(string); self != "/api/deferred-requests/"+id {
		t.Errorf("polling link = %v, want /api/deferred-requests/%s", links["self"], id)
	}

	// 2) worker picks the envelope off the high lane and replays internally
	env, _, err := f.queue.Claim(context.Background(), models.PriorityHigh, "e2e-worker", 100*time.Millisecond)
	if err != nil || env == nil {
		t.Fatalf("expected an envelope on the high lane, err=%v", err)
	}
	f.wrk.Handle(context.Background(), models.PriorityHigh, *env)

	rec, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != models.StatusCompleted {
		t.Fatalf("record status = %s, want completed (error: %v)", rec.Status, rec.ErrorMessage)
	}
	if rec.ResultStatusCode == nil || *rec.ResultStatusCode != 200 {
		t.Fatalf("result status code = %v, want 200", rec.ResultStatusCode)
	}

	// 3) owner polls and sees the result
	resp, body = f.do(t, "GET", "/api/deferred-requests/"+id, "user-1",
		map[string]string{deferral.HeaderOrganization: "org-1"}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("poll status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != string(models.StatusCompleted) {
		t.Errorf("polled status = %v, want completed", body["status"])
	}
	result, _ := body["result"].(map[string]any)
	if result == nil {
		t.Fatal("completed poll must include the result")
	}
	if result["organization_id"] != "org-1" {
		t.Errorf("replay ran under org %v, want org-1", result["organization_id"])
	}

	// 4) another (non-superadmin) user is forbidden
	resp, _ = f.do(t, "GET", "/api/deferred-requests/"+id, "user-2",
		map[string]string{deferral.HeaderOrganization: "org-1"}, nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("other user's poll status = %d, want 403", resp.StatusCode)
	}
}

func TestForcedDeferralIgnoresMissingOptIn(t *testing.T) {
	rule := reportRule()
	rule.ForceDeferred = true
	f := newFixture(t, rule)

	resp, body := f.do(t, "POST", "/api/v1/reports/generate", "user-1",
		map[string]string{deferral.HeaderOrganization: "org-1"}, []byte(`{}`))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202 without opt-in header on forced rule", resp.StatusCode)
	}
	if id, _ := body["id"].(string); id == "" {
		t.Error("202 response must carry the deferred request id")
	}
}

func TestOptInRequiredWhenNotForced(t *testing.T) {
	f := newFixture(t, reportRule())

	resp, body := f.do(t, "POST", "/api/v1/reports/generate", "user-1",
		map[string]string{deferral.HeaderOrganization: "org-1"}, []byte(`{}`))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 synchronous execution without opt-in", resp.StatusCode)
	}
	if body["organization_id"] != "org-1" {
		t.Errorf("synchronous report ran under org %v, want org-1", body["organization_id"])
	}
}

func TestReplaySentinelIsNeverDeferred(t *testing.T) {
	f := newFixture(t, reportRule())

	resp, _ := f.do(t, "POST", "/api/v1/reports/generate", "user-1", map[string]string{
		deferral.HeaderOrganization:      "org-1",
		deferral.HeaderDefer:             "true",
		deferral.HeaderDeferredExecution: "true",
	}, []byte(`{}`))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200: sentinel request must execute synchronously", resp.StatusCode)
	}

	// nothing enqueued
	env, _, _ := f.queue.Claim(context.Background(), models.PriorityHigh, "e2e-worker", 50*time.Millisecond)
	if env != nil {
		t.Error("sentinel request must not create a deferred request")
	}
}

func TestCancelPendingRequest(t *testing.T) {
	f := newFixture(t, reportRule())
	orgHeaders := map[string]string{
		deferral.HeaderOrganization: "org-1",
		deferral.HeaderDefer:        "true",
	}

	_, body := f.do(t, "POST", "/api/v1/reports/generate", "user-1", orgHeaders, []byte(`{}`))
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("missing deferred request id")
	}

	resp, body := f.do(t, "POST", "/api/deferred-requests/"+id+"/cancel", "user-1",
		map[string]string{deferral.HeaderOrganization: "org-1"}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != string(models.StatusCancelled) {
		t.Errorf("status after cancel = %v, want cancelled", body["status"])
	}

	// the queued delivery is now a no-op
	env, _, _ := f.queue.Claim(context.Background(), models.PriorityHigh, "e2e-worker", 50*time.Millisecond)
	if env != nil {
		f.wrk.Handle(context.Background(), models.PriorityHigh, *env)
	}
	rec, _ := f.store.Get(context.Background(), id)
	if rec.Status != models.StatusCancelled {
		t.Errorf("status = %s, want cancelled to stick", rec.Status)
	}

	// cancelling again conflicts
	resp, _ = f.do(t, "POST", "/api/deferred-requests/"+id+"/cancel", "user-1",
		map[string]string{deferral.HeaderOrganization: "org-1"}, nil)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp.StatusCode)
	}
}

func TestHeadersAreFilteredBeforePersistence(t *testing.T) {
	f := newFixture(t, reportRule())

	_, body := f.do(t, "POST", "/api/v1/reports/generate", "user-1", map[string]string{
		deferral.HeaderOrganization: "org-1",
		deferral.HeaderDefer:        "true",
		"X-Custom-Secret":           "do-not-store",
	}, []byte(`{}`))
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("missing deferred request id")
	}

	rec, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var headers map[string]string
	if err := json.Unmarshal(rec.Headers, &headers); err != nil {
		t.Fatalf("stored headers not valid JSON: %v", err)
	}
	if _, ok := headers["authorization"]; ok {
		t.Error("credentials must never be persisted")
	}
	if _, ok := headers["x-custom-secret"]; ok {
		t.Error("non-allow-listed headers must be dropped")
	}
	if headers["x-organization-id"] != "org-1" {
		t.Errorf("allow-listed header missing, got %v", headers)
	}
}
