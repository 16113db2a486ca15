package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mcpgw/gateway/internal/port/outbound"
)

// KeycloakGroupManager implements outbound.IdPGroupManager against a
// single realm's Admin REST API (plain JSON over HTTP, unlike Cognito's
// SigV4-signed protocol, so no SDK dependency is needed here — only an
// injected *http.Client carrying a bearer token with realm-management
// privileges, wrapping a plain HTTP client rather than inventing a
// dedicated client type).
type KeycloakGroupManager struct {
	client      *http.Client
	baseURL     string
	realm       string
	adminToken  string
	clientUUID  map[string]string // not read or written; each call looks the client UUID up, since Keycloak indexes clients by UUID, not clientId
}

// NewKeycloakGroupManager builds a KeycloakGroupManager. adminToken is a
// bearer token for a service account with realm-management:manage-users
// and manage-clients roles.
func NewKeycloakGroupManager(client *http.Client, baseURL, realm, adminToken string) *KeycloakGroupManager {
	return &KeycloakGroupManager{
		client:     client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		realm:      realm,
		adminToken: adminToken,
		clientUUID: map[string]string{},
	}
}

func (m *KeycloakGroupManager) adminURL(path string) string {
	return fmt.Sprintf("%s/admin/realms/%s%s", m.baseURL, m.realm, path)
}

func (m *KeycloakGroupManager) do(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.adminToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &keycloakAPIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type keycloakAPIError struct {
	Status int
	Body   string
}

func (e *keycloakAPIError) Error() string {
	return fmt.Sprintf("keycloak admin api returned %d: %s", e.Status, e.Body)
}

type keycloakGroup struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// CreateGroup creates a realm group. Idempotent: a 409 Conflict (group
// already exists) is not surfaced as an error.
func (m *KeycloakGroupManager) CreateGroup(ctx context.Context, name, description string) error {
	body := map[string]any{"name": name}
	if description != "" {
		body["attributes"] = map[string][]string{"description": {description}}
	}
	err := m.do(ctx, http.MethodPost, m.adminURL("/groups"), body, nil)
	if err != nil && !isKeycloakStatus(err, http.StatusConflict) {
		return fmt.Errorf("keycloak create group %q: %w", name, err)
	}
	return nil
}

// DeleteGroup removes a realm group by name. Idempotent: a group that
// does not exist is not an error.
func (m *KeycloakGroupManager) DeleteGroup(ctx context.Context, name string) error {
	id, err := m.groupIDByName(ctx, name)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if err := m.do(ctx, http.MethodDelete, m.adminURL("/groups/"+id), nil, nil); err != nil {
		return fmt.Errorf("keycloak delete group %q: %w", name, err)
	}
	return nil
}

// ListGroups returns every top-level realm group.
func (m *KeycloakGroupManager) ListGroups(ctx context.Context) ([]outbound.IdPGroup, error) {
	var groups []keycloakGroup
	if err := m.do(ctx, http.MethodGet, m.adminURL("/groups"), nil, &groups); err != nil {
		return nil, fmt.Errorf("keycloak list groups: %w", err)
	}
	out := make([]outbound.IdPGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, outbound.IdPGroup{Name: g.Name})
	}
	return out, nil
}

func (m *KeycloakGroupManager) groupIDByName(ctx context.Context, name string) (string, error) {
	var groups []keycloakGroup
	if err := m.do(ctx, http.MethodGet, m.adminURL("/groups?search="+name), nil, &groups); err != nil {
		return "", fmt.Errorf("keycloak find group %q: %w", name, err)
	}
	for _, g := range groups {
		if g.Name == name {
			return g.ID, nil
		}
	}
	return "", nil
}

// CreateServiceAccount creates a confidential client with the OAuth2
// Service Accounts (Client Credentials) flow enabled, assigns it to
// groups via its dedicated service-account user, and returns its
// client ID and secret.
func (m *KeycloakGroupManager) CreateServiceAccount(ctx context.Context, name string, groups []string, description string) (outbound.ServiceAccount, error) {
	clientPayload := map[string]any{
		"clientId":                  name,
		"description":               description,
		"serviceAccountsEnabled":    true,
		"publicClient":              false,
		"standardFlowEnabled":       false,
		"directAccessGrantsEnabled": false,
	}
	if err := m.do(ctx, http.MethodPost, m.adminURL("/clients"), clientPayload, nil); err != nil {
		return outbound.ServiceAccount{}, fmt.Errorf("keycloak create service account client %q: %w", name, err)
	}

	var clients []struct {
		ID       string `json:"id"`
		ClientID string `json:"clientId"`
	}
	if err := m.do(ctx, http.MethodGet, m.adminURL("/clients?clientId="+name), nil, &clients); err != nil {
		return outbound.ServiceAccount{}, fmt.Errorf("keycloak locate created client %q: %w", name, err)
	}
	if len(clients) == 0 {
		return outbound.ServiceAccount{}, fmt.Errorf("keycloak created client %q not found on lookup", name)
	}
	clientUUID := clients[0].ID

	var secret struct {
		Value string `json:"value"`
	}
	if err := m.do(ctx, http.MethodGet, m.adminURL("/clients/"+clientUUID+"/client-secret"), nil, &secret); err != nil {
		return outbound.ServiceAccount{}, fmt.Errorf("keycloak fetch client secret %q: %w", name, err)
	}

	if err := m.assignServiceAccountToGroups(ctx, clientUUID, groups); err != nil {
		return outbound.ServiceAccount{}, err
	}

	return outbound.ServiceAccount{ClientID: name, ClientSecret: secret.Value}, nil
}

func (m *KeycloakGroupManager) assignServiceAccountToGroups(ctx context.Context, clientUUID string, groups []string) error {
	var user struct {
		ID string `json:"id"`
	}
	if err := m.do(ctx, http.MethodGet, m.adminURL("/clients/"+clientUUID+"/service-account-user"), nil, &user); err != nil {
		return fmt.Errorf("keycloak fetch service account user: %w", err)
	}

	for _, groupName := range groups {
		groupID, err := m.groupIDByName(ctx, groupName)
		if err != nil {
			return err
		}
		if groupID == "" {
			continue
		}
		if err := m.do(ctx, http.MethodPut, m.adminURL("/users/"+user.ID+"/groups/"+groupID), nil, nil); err != nil {
			return fmt.Errorf("keycloak assign service account to group %q: %w", groupName, err)
		}
	}
	return nil
}

func isKeycloakStatus(err error, status int) bool {
	apiErr, ok := err.(*keycloakAPIError)
	return ok && apiErr.Status == status
}
