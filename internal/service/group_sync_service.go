package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mcpgw/gateway/internal/adapter/outbound/driftledger"
	"github.com/mcpgw/gateway/internal/domain/apperr"
	"github.com/mcpgw/gateway/internal/domain/events"
	"github.com/mcpgw/gateway/internal/domain/identity"
	"github.com/mcpgw/gateway/internal/domain/scope"
	"github.com/mcpgw/gateway/internal/port/outbound"
)

// DriftRecorder is the outbound port for persisting and listing Group
// Sync drift events (implemented by driftledger.Store).
type DriftRecorder interface {
	Record(ctx context.Context, groupName, operation, reason string) error
	List(ctx context.Context) ([]driftledger.Event, error)
}

// GroupSyncService implements the bidirectional IdP/ScopePolicy
// synchronization operations: a bounded-exponential-backoff retry
// around each IdP call, rolling back the side that already succeeded
// if the other side fails.
type GroupSyncService struct {
	idp      outbound.IdPGroupManager
	sps      outbound.ScopePolicyStore
	resolver scope.KnownServerResolver
	drift    DriftRecorder
	bus      *events.Bus
	logger   *slog.Logger

	credentialsDir string
	maxAttempts    int
	backoffBase    time.Duration
	backoffCap     time.Duration
}

// NewGroupSyncService builds a GroupSyncService.
func NewGroupSyncService(
	idp outbound.IdPGroupManager,
	sps outbound.ScopePolicyStore,
	resolver scope.KnownServerResolver,
	drift DriftRecorder,
	bus *events.Bus,
	credentialsDir string,
	maxAttempts int,
	backoffBase, backoffCap time.Duration,
	logger *slog.Logger,
) *GroupSyncService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoffBase <= 0 {
		backoffBase = 200 * time.Millisecond
	}
	if backoffCap <= 0 {
		backoffCap = 5 * time.Second
	}
	return &GroupSyncService{
		idp:            idp,
		sps:            sps,
		resolver:       resolver,
		drift:          drift,
		bus:            bus,
		logger:         logger,
		credentialsDir: credentialsDir,
		maxAttempts:    maxAttempts,
		backoffBase:    backoffBase,
		backoffCap:     backoffCap,
	}
}

// withRetry calls fn up to s.maxAttempts times, doubling the delay
// between attempts (capped at s.backoffCap), returning the last error
// if every attempt fails.
func (s *GroupSyncService) withRetry(ctx context.Context, fn func() error) error {
	delay := s.backoffBase
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.backoffCap {
			delay = s.backoffCap
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", s.maxAttempts, err)
}

// CreateGroup creates the group in the IdP, then in the ScopePolicy
// document. A ScopePolicy failure rolls back the IdP creation. Publishes scope-reload on success.
func (s *GroupSyncService) CreateGroup(ctx context.Context, name, description string) (scope.Policy, error) {
	if err := s.withRetry(ctx, func() error { return s.idp.CreateGroup(ctx, name, description) }); err != nil {
		return scope.Policy{}, apperr.New(apperr.KindUpstream, "idp_create_group_failed", err)
	}

	policy, err := s.sps.Load(ctx)
	if err != nil {
		s.rollbackCreate(ctx, name)
		return scope.Policy{}, apperr.New(apperr.KindTransient, "scope_policy_load_failed", err)
	}

	next, err := scope.CreateGroup(policy, name, description)
	if err != nil {
		s.rollbackCreate(ctx, name)
		return scope.Policy{}, err
	}

	if err := s.sps.Save(ctx, next); err != nil {
		s.rollbackCreate(ctx, name)
		return scope.Policy{}, apperr.New(apperr.KindTransient, "scope_policy_save_failed", err)
	}

	s.logger.Info("group created", "group", name)
	s.bus.Publish(events.Event{Kind: events.KindScopeReload, Detail: "create_group:" + name})
	return next, nil
}

// rollbackCreate undoes a successful IdP CreateGroup after the SPS side
// failed. A failed rollback is recorded as drift rather than retried
// indefinitely, since the caller has already received an error and must
// not be blocked on IdP recovery.
func (s *GroupSyncService) rollbackCreate(ctx context.Context, name string) {
	if err := s.idp.DeleteGroup(ctx, name); err != nil {
		s.logger.Error("rollback of idp group creation failed", "group", name, "error", err)
		if recErr := s.drift.Record(ctx, name, "create_group_rollback", err.Error()); recErr != nil {
			s.logger.Error("failed to record drift event", "group", name, "error", recErr)
		}
	}
}

// DeleteGroup removes the group from the ScopePolicy first, then the
// IdP (the reverse of CreateGroup's ordering). A protected group (the
// two unrestricted defaults) is rejected before either side is
// touched. A failed IdP-side delete after a successful ScopePolicy
// delete is recorded as drift rather than rolled back, leaving the
// system in a state flagged for operator reconciliation rather than
// silently retried.
func (s *GroupSyncService) DeleteGroup(ctx context.Context, name string) (scope.Policy, error) {
	policy, err := s.sps.Load(ctx)
	if err != nil {
		return scope.Policy{}, apperr.New(apperr.KindTransient, "scope_policy_load_failed", err)
	}

	next, err := scope.DeleteGroup(policy, name)
	if err != nil {
		return scope.Policy{}, err
	}

	if err := s.sps.Save(ctx, next); err != nil {
		return scope.Policy{}, apperr.New(apperr.KindTransient, "scope_policy_save_failed", err)
	}

	s.bus.Publish(events.Event{Kind: events.KindScopeReload, Detail: "delete_group:" + name})

	if err := s.withRetry(ctx, func() error { return s.idp.DeleteGroup(ctx, name) }); err != nil {
		s.logger.Error("idp group deletion failed after scope policy removal", "group", name, "error", err)
		if recErr := s.drift.Record(ctx, name, "delete_group", err.Error()); recErr != nil {
			s.logger.Error("failed to record drift event", "group", name, "error", recErr)
		}
		return next, apperr.New(apperr.KindUpstream, "idp_delete_group_failed", err)
	}

	s.logger.Info("group deleted", "group", name)
	return next, nil
}

// AddServerToGroups is a pure ScopePolicy mutation; the IdP is never
// touched.
func (s *GroupSyncService) AddServerToGroups(ctx context.Context, serverName string, groups []string) (scope.MutationResult, error) {
	policy, err := s.sps.Load(ctx)
	if err != nil {
		return scope.MutationResult{}, apperr.New(apperr.KindTransient, "scope_policy_load_failed", err)
	}

	result, err := scope.AddServerToGroups(policy, s.resolver, serverName, groups)
	if err != nil {
		return scope.MutationResult{}, err
	}

	if err := s.sps.Save(ctx, result.Policy); err != nil {
		return scope.MutationResult{}, apperr.New(apperr.KindTransient, "scope_policy_save_failed", err)
	}

	s.bus.Publish(events.Event{Kind: events.KindScopeReload, Detail: "add_server_to_groups:" + serverName})
	return result, nil
}

// RemoveServerFromGroups is the inverse of AddServerToGroups; also a
// pure ScopePolicy mutation.
func (s *GroupSyncService) RemoveServerFromGroups(ctx context.Context, serverName string, groups []string) (scope.Policy, error) {
	policy, err := s.sps.Load(ctx)
	if err != nil {
		return scope.Policy{}, apperr.New(apperr.KindTransient, "scope_policy_load_failed", err)
	}

	next, err := scope.RemoveServerFromGroups(policy, serverName, groups)
	if err != nil {
		return scope.Policy{}, err
	}

	if err := s.sps.Save(ctx, next); err != nil {
		return scope.Policy{}, apperr.New(apperr.KindTransient, "scope_policy_save_failed", err)
	}

	s.bus.Publish(events.Event{Kind: events.KindScopeReload, Detail: "remove_server_from_groups:" + serverName})
	return next, nil
}

// GroupsReport is the result of list_groups: the IdP and ScopePolicy
// group sets joined by name, plus any recorded drift.
type GroupsReport struct {
	Synchronized []string
	IdPOnly      []string
	PolicyOnly   []string
	Drift        []string
}

// ListGroups joins the IdP's and ScopePolicy's group sets.
func (s *GroupSyncService) ListGroups(ctx context.Context) (GroupsReport, error) {
	idpGroups, err := s.idp.ListGroups(ctx)
	if err != nil {
		return GroupsReport{}, apperr.New(apperr.KindUpstream, "idp_list_groups_failed", err)
	}
	policy, err := s.sps.Load(ctx)
	if err != nil {
		return GroupsReport{}, apperr.New(apperr.KindTransient, "scope_policy_load_failed", err)
	}

	idpNames := make(map[string]bool, len(idpGroups))
	for _, g := range idpGroups {
		idpNames[g.Name] = true
	}

	var report GroupsReport
	for name := range policy.Groups {
		if idpNames[name] {
			report.Synchronized = append(report.Synchronized, name)
		} else {
			report.PolicyOnly = append(report.PolicyOnly, name)
		}
	}
	for name := range idpNames {
		if _, inPolicy := policy.Groups[name]; !inPolicy {
			report.IdPOnly = append(report.IdPOnly, name)
		}
	}

	driftEvents, err := s.drift.List(ctx)
	if err != nil {
		s.logger.Warn("failed to load drift ledger for list_groups", "error", err)
	} else {
		for _, e := range driftEvents {
			report.Drift = append(report.Drift, fmt.Sprintf("%s: %s failed (%s)", e.GroupName, e.Operation, e.Reason))
		}
	}

	return report, nil
}

// CreateM2MUser provisions a service-account client in the IdP, assigns
// it to groups, and persists the Argon2id hash of its client secret to
// the configured credentials directory. The cleartext secret is
// returned to the caller exactly once and is never stored.
func (s *GroupSyncService) CreateM2MUser(ctx context.Context, name string, groups []string, description string) (outbound.ServiceAccount, error) {
	var account outbound.ServiceAccount
	err := s.withRetry(ctx, func() error {
		var err error
		account, err = s.idp.CreateServiceAccount(ctx, name, groups, description)
		return err
	})
	if err != nil {
		return outbound.ServiceAccount{}, apperr.New(apperr.KindUpstream, "idp_create_service_account_failed", err)
	}

	if err := s.persistM2MCredentialHash(name, groups, account); err != nil {
		s.logger.Error("failed to persist m2m credential hash", "name", name, "error", err)
		return outbound.ServiceAccount{}, apperr.New(apperr.KindTransient, "credential_persist_failed", err)
	}

	s.logger.Info("m2m service account created", "name", name, "groups", groups)
	return account, nil
}

// m2mCredentialRecord is the JSON document written per create_m2m_user
// call, holding only the hash, never the cleartext secret.
type m2mCredentialRecord struct {
	ClientID   string    `json:"client_id"`
	SecretHash string    `json:"secret_hash"`
	Groups     []string  `json:"groups"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *GroupSyncService) persistM2MCredentialHash(name string, groups []string, account outbound.ServiceAccount) error {
	hash, err := identity.HashSecret(account.ClientSecret)
	if err != nil {
		return fmt.Errorf("hash client secret: %w", err)
	}

	if err := os.MkdirAll(s.credentialsDir, 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	record := m2mCredentialRecord{ClientID: account.ClientID, SecretHash: hash, Groups: groups, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential record: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(s.credentialsDir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename credential file: %w", err)
	}
	return nil
}
