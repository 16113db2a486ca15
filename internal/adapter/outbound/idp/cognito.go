// Package idp implements the outbound.IdPGroupManager port against each
// supported identity provider's admin API, used by Group Sync
// to mirror group and service-account state into the
// IdP. Grounded on the AWS SDK usage already present in
// stacklok-toolhive (aws-sdk-go-v2/service/sts, used there for
// bedrock-agentcore SigV4 signing) — this is the sibling Cognito
// Identity Provider service package from the same SDK family.
package idp

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/mcpgw/gateway/internal/port/outbound"
)

// CognitoGroupManager implements outbound.IdPGroupManager against a
// single Cognito user pool's admin API.
type CognitoGroupManager struct {
	client     *cognitoidentityprovider.Client
	userPoolID string
}

// NewCognitoGroupManager builds a CognitoGroupManager. client is the
// caller-configured SDK client (region/credentials resolved by the
// caller via aws-sdk-go-v2/config, not by this package).
func NewCognitoGroupManager(client *cognitoidentityprovider.Client, userPoolID string) *CognitoGroupManager {
	return &CognitoGroupManager{client: client, userPoolID: userPoolID}
}

// CreateGroup creates a Cognito user pool group. Idempotent: a
// GroupExistsException from a concurrent or repeated call is not
// surfaced as an error.
func (m *CognitoGroupManager) CreateGroup(ctx context.Context, name, description string) error {
	_, err := m.client.CreateGroup(ctx, &cognitoidentityprovider.CreateGroupInput{
		GroupName:   aws.String(name),
		UserPoolId:  aws.String(m.userPoolID),
		Description: aws.String(description),
	})
	if err != nil && !isCognitoGroupExists(err) {
		return fmt.Errorf("cognito create group %q: %w", name, err)
	}
	return nil
}

// DeleteGroup removes a Cognito user pool group. Idempotent: a
// ResourceNotFoundException is not surfaced as an error.
func (m *CognitoGroupManager) DeleteGroup(ctx context.Context, name string) error {
	_, err := m.client.DeleteGroup(ctx, &cognitoidentityprovider.DeleteGroupInput{
		GroupName:  aws.String(name),
		UserPoolId: aws.String(m.userPoolID),
	})
	if err != nil && !isCognitoNotFound(err) {
		return fmt.Errorf("cognito delete group %q: %w", name, err)
	}
	return nil
}

// ListGroups paginates through every group defined in the user pool.
func (m *CognitoGroupManager) ListGroups(ctx context.Context) ([]outbound.IdPGroup, error) {
	var (
		groups []outbound.IdPGroup
		token  *string
	)
	for {
		out, err := m.client.ListGroups(ctx, &cognitoidentityprovider.ListGroupsInput{
			UserPoolId: aws.String(m.userPoolID),
			NextToken:  token,
		})
		if err != nil {
			return nil, fmt.Errorf("cognito list groups: %w", err)
		}
		for _, g := range out.Groups {
			groups = append(groups, outbound.IdPGroup{
				Name:        aws.ToString(g.GroupName),
				Description: aws.ToString(g.Description),
			})
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return groups, nil
}

// CreateServiceAccount provisions an M2M app client with the OAuth2
// Client Credentials flow enabled and the fixed OAuth scope
// "aws.cognito.signin.user.admin"; groups is not used by this call (the
// user pool has no direct "app client belongs to a group" relationship;
// Group Sync records the group membership in the credential file it
// writes alongside the returned secret).
func (m *CognitoGroupManager) CreateServiceAccount(ctx context.Context, name string, groups []string, description string) (outbound.ServiceAccount, error) {
	out, err := m.client.CreateUserPoolClient(ctx, &cognitoidentityprovider.CreateUserPoolClientInput{
		UserPoolId:                      aws.String(m.userPoolID),
		ClientName:                      aws.String(name),
		GenerateSecret:                  aws.Bool(true),
		AllowedOAuthFlows:               []types.OAuthFlowType{types.OAuthFlowTypeClientCredentials},
		AllowedOAuthFlowsUserPoolClient: aws.Bool(true),
		AllowedOAuthScopes:              []string{"aws.cognito.signin.user.admin"},
	})
	if err != nil {
		return outbound.ServiceAccount{}, fmt.Errorf("cognito create service account %q: %w", name, err)
	}
	if out.UserPoolClient == nil || out.UserPoolClient.ClientId == nil || out.UserPoolClient.ClientSecret == nil {
		return outbound.ServiceAccount{}, fmt.Errorf("cognito create service account %q: incomplete response", name)
	}
	return outbound.ServiceAccount{
		ClientID:     aws.ToString(out.UserPoolClient.ClientId),
		ClientSecret: aws.ToString(out.UserPoolClient.ClientSecret),
	}, nil
}

func isCognitoGroupExists(err error) bool {
	var e *types.GroupExistsException
	return errors.As(err, &e)
}

func isCognitoNotFound(err error) bool {
	var e *types.ResourceNotFoundException
	if errors.As(err, &e) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}
