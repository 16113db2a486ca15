package gwfront

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcpgw/gateway/internal/adapter/outbound/memory"
	"github.com/mcpgw/gateway/internal/adapter/outbound/registryfile"
	"github.com/mcpgw/gateway/internal/adapter/outbound/scopestore"
	"github.com/mcpgw/gateway/internal/domain/events"
	"github.com/mcpgw/gateway/internal/domain/identity"
	"github.com/mcpgw/gateway/internal/domain/scope"
	"github.com/mcpgw/gateway/internal/domain/session"
	"github.com/mcpgw/gateway/internal/service"
)

const testSecretKey = "test-secret-key-at-least-32-bytes-long!!"

// signCookie mirrors AuthPlane.encodeCookie (internal/service/authplane.go),
// which is unexported and unreachable from this package's own tests.
func signCookie(sessionID string) string {
	mac := hmac.New(sha256.New, []byte(testSecretKey))
	mac.Write([]byte(sessionID))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return sessionID + "." + sig
}

type testFixture struct {
	handler  *Handler
	auth     *service.AuthPlane
	registry *service.RegistryService
	sessions *session.SessionService
}

func (f *testFixture) cookieFor(t *testing.T, principal identity.Principal) *http.Cookie {
	t.Helper()
	sess, err := f.sessions.Create(context.Background(), principal)
	if err != nil {
		t.Fatalf("sessions.Create() error = %v", err)
	}
	return &http.Cookie{Name: SessionCookieName, Value: signCookie(sess.ID)}
}

func testHandler(t *testing.T) *testFixture {
	t.Helper()

	dir := t.TempDir()
	regStore, err := registryfile.NewStore(filepath.Join(dir, "registry"), discardLogger())
	if err != nil {
		t.Fatalf("registryfile.NewStore() error = %v", err)
	}
	bus := events.NewBus()
	reg := service.NewRegistryService(regStore, bus, filepath.Join(dir, "fragment.json"), "", discardLogger())

	policyStore, err := scopestore.NewStore([]string{filepath.Join(dir, "scope-policy.yaml")})
	if err != nil {
		t.Fatalf("scopestore.NewStore() error = %v", err)
	}
	policy := scope.DefaultPolicy()
	policy.Groups["ops-admin"] = scope.Group{Name: "ops-admin"}
	policy.UIScopes["ops-admin"] = []scope.UICapability{
		scope.CapListService, scope.CapRegisterService, scope.CapModifyService, scope.CapHealthCheckService,
	}
	if err := policyStore.Save(context.Background(), policy); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	sessions := session.NewSessionService(memory.NewSessionStore(), session.Config{Timeout: 30 * time.Minute})
	auth := service.NewAuthPlane(service.AuthPlaneConfig{
		Sessions:  sessions,
		Registry:  reg,
		Policy:    policyStore,
		SecretKey: testSecretKey,
		Budget:    time.Second,
		Logger:    discardLogger(),
	})

	h := NewHandler(
		WithAuthPlane(auth),
		WithRegistry(reg),
		WithScopePolicyStore(policyStore),
		WithLogger(discardLogger()),
	)
	return &testFixture{handler: h, auth: auth, registry: reg, sessions: sessions}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandler_Validate_NoCredential(t *testing.T) {
	f := testHandler(t)
	srv := httptest.NewServer(f.handler.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/validate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /validate error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandler_ListServices_RequiresCapability(t *testing.T) {
	f := testHandler(t)
	srv := httptest.NewServer(f.handler.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/list_services")
	if err != nil {
		t.Fatalf("GET /api/list_services error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 with no session", resp.StatusCode)
	}
}

func TestHandler_RegisterThenListServices(t *testing.T) {
	f := testHandler(t)
	srv := httptest.NewServer(f.handler.Routes())
	defer srv.Close()

	cookie := f.cookieFor(t, identity.Principal{ID: "admin-1", Groups: []string{"ops-admin"}, Idp: identity.IdPKeycloak})

	body := `{"path":"/finance","server_name":"Finance","proxy_pass_url":"http://localhost:9001","enabled":true}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/register", strings.NewReader(body))
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/register error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, b)
	}

	listReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/list_services", nil)
	listReq.AddCookie(cookie)
	listResp, err := http.DefaultClient.Do(listReq)
	if err != nil {
		t.Fatalf("GET /api/list_services error = %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", listResp.StatusCode)
	}
	var records []serviceRecordDTO
	if err := json.NewDecoder(listResp.Body).Decode(&records); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(records) != 1 || records[0].Path != "/finance" {
		t.Fatalf("records = %+v, want one record at /finance", records)
	}
}
