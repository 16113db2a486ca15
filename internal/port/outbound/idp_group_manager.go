package outbound

import "context"

// IdPGroup is a group as reported by the identity provider.
type IdPGroup struct {
	Name        string
	Description string
}

// ServiceAccount is the result of provisioning an M2M credential in the IdP.
type ServiceAccount struct {
	ClientID     string
	ClientSecret string
}

// IdPGroupManager is the outbound port Group Sync uses to mirror group and
// service-account state into the identity provider.
// Adapters implement this per IdP (Cognito user pool groups, Keycloak
// realm roles); both sides of a sync step go through this one interface
// so GroupSyncService never branches on which IdP is configured.
type IdPGroupManager interface {
	// CreateGroup creates a group in the IdP. Idempotent: creating a
	// group that already exists is not an error.
	CreateGroup(ctx context.Context, name, description string) error

	// DeleteGroup removes a group from the IdP. Idempotent: deleting a
	// group that does not exist is not an error.
	DeleteGroup(ctx context.Context, name string) error

	// ListGroups returns every group currently defined in the IdP.
	ListGroups(ctx context.Context) ([]IdPGroup, error)

	// CreateServiceAccount provisions an M2M client in the IdP, assigns
	// it to groups, and returns its client ID and a freshly minted
	// client secret. The secret is never retrievable again after this
	// call returns.
	CreateServiceAccount(ctx context.Context, name string, groups []string, description string) (ServiceAccount, error)
}
