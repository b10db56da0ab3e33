package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"permission-service/internal/errs"
	"permission-service/internal/event"
	"permission-service/internal/models"
	"permission-service/internal/repository"
)

// ============================================================================
// TEST FAKES
// ============================================================================

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// fakeCatalog is an in-memory PermissionRepository.
type fakeCatalog struct {
	permissions map[string]*models.Permission
	nextID      int
}

func newFakeCatalog(names ...string) *fakeCatalog {
	c := &fakeCatalog{permissions: make(map[string]*models.Permission)}
	for _, name := range names {
		c.nextID++
		c.permissions[name] = &models.Permission{
			ID:        c.nextID,
			Name:      name,
			Category:  "test",
			IsActive:  true,
			CreatedAt: time.Now(),
		}
	}
	return c
}

func (c *fakeCatalog) InitializeSystemPermissions(ctx context.Context, defs []models.PermissionDefinition) (int, error) {
	inserted := 0
	for _, def := range defs {
		if _, ok := c.permissions[def.Name]; ok {
			continue
		}
		c.nextID++
		c.permissions[def.Name] = &models.Permission{
			ID:          c.nextID,
			Name:        def.Name,
			Category:    def.Category,
			Description: def.Description,
			IsActive:    true,
			CreatedAt:   time.Now(),
		}
		inserted++
	}
	return inserted, nil
}

func (c *fakeCatalog) GetPermissionByName(ctx context.Context, name string) (*models.Permission, error) {
	permission, ok := c.permissions[name]
	if !ok {
		return nil, fmt.Errorf("permission '%s': %w", name, errs.ErrNotFound)
	}
	copied := *permission
	return &copied, nil
}

func (c *fakeCatalog) GetPermissions(ctx context.Context, category string, activeOnly bool, limit, offset int) ([]*models.Permission, error) {
	var result []*models.Permission
	for _, permission := range c.permissions {
		if category != "" && permission.Category != category {
			continue
		}
		if activeOnly && !permission.IsActive {
			continue
		}
		copied := *permission
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (c *fakeCatalog) GetActivePermissionNames(ctx context.Context) ([]string, error) {
	var names []string
	for _, permission := range c.permissions {
		if permission.IsActive {
			names = append(names, permission.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *fakeCatalog) SetActive(ctx context.Context, name string, active bool) error {
	permission, ok := c.permissions[name]
	if !ok {
		return fmt.Errorf("permission '%s': %w", name, errs.ErrNotFound)
	}
	permission.IsActive = active
	return nil
}

func (c *fakeCatalog) DeletePermission(ctx context.Context, name string) error {
	if _, ok := c.permissions[name]; !ok {
		return fmt.Errorf("permission '%s': %w", name, errs.ErrNotFound)
	}
	delete(c.permissions, name)
	return nil
}

// fakeGrantRecord mirrors one grant row.
type fakeGrantRecord struct {
	grantedAt time.Time
	grantedBy string
	reason    *string
	expiresAt *time.Time
	revokedAt *time.Time
	revokedBy *string
}

func (r *fakeGrantRecord) statusAt(now time.Time) models.GrantStatus {
	up := models.UserPermission{RevokedAt: r.revokedAt, ExpiresAt: r.expiresAt}
	return up.StatusAt(now)
}

type auditKey struct {
	correlationID string
	subjectType   models.SubjectType
	subjectID     string
	permission    string
	action        models.AuditAction
}

// fakeGrantStore is an in-memory GrantStore with the same mutation semantics
// as the Postgres store, audit dedup included.
type fakeGrantStore struct {
	mu          sync.Mutex
	permissions map[string]bool
	grants      map[models.Subject]map[string]*fakeGrantRecord
	audits      []*models.PermissionAudit
	auditSeen   map[auditKey]bool
	readErr     error
}

func newFakeGrantStore(permissionNames ...string) *fakeGrantStore {
	s := &fakeGrantStore{
		permissions: make(map[string]bool),
		grants:      make(map[models.Subject]map[string]*fakeGrantRecord),
		auditSeen:   make(map[auditKey]bool),
	}
	for _, name := range permissionNames {
		s.permissions[name] = true
	}
	return s
}

func (s *fakeGrantStore) setRecord(subject models.Subject, permissionName string, record *fakeGrantRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[subject] == nil {
		s.grants[subject] = make(map[string]*fakeGrantRecord)
	}
	s.grants[subject][permissionName] = record
}

func (s *fakeGrantStore) auditsByAction(action models.AuditAction) []*models.PermissionAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.PermissionAudit
	for _, entry := range s.audits {
		if entry.Action == action {
			matched = append(matched, entry)
		}
	}
	return matched
}

func (s *fakeGrantStore) Grant(ctx context.Context, p repository.GrantParams) (*models.GrantChange, error) {
	var change *models.GrantChange
	err := s.WithSubjectLock(ctx, p.Subject, func(ops repository.GrantTxOps) error {
		c, err := ops.Grant(p)
		if err != nil {
			return err
		}
		change = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (s *fakeGrantStore) Revoke(ctx context.Context, p repository.RevokeParams) (*models.GrantChange, error) {
	var change *models.GrantChange
	err := s.WithSubjectLock(ctx, p.Subject, func(ops repository.GrantTxOps) error {
		c, err := ops.Revoke(p)
		if err != nil {
			return err
		}
		change = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (s *fakeGrantStore) GetDirect(ctx context.Context, userID, permissionName string) (*models.UserPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	record, ok := s.grants[models.Subject{Type: models.SubjectUser, ID: userID}][permissionName]
	if !ok {
		return nil, fmt.Errorf("direct grant (%s, %s): %w", userID, permissionName, errs.ErrNotFound)
	}
	return &models.UserPermission{
		UserID:         userID,
		PermissionName: permissionName,
		GrantedAt:      record.grantedAt,
		GrantedBy:      record.grantedBy,
		Reason:         record.reason,
		ExpiresAt:      record.expiresAt,
		RevokedAt:      record.revokedAt,
		RevokedBy:      record.revokedBy,
	}, nil
}

func (s *fakeGrantStore) GetRoleGrants(ctx context.Context, roleIDs []string, permissionName string) ([]*models.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var grants []*models.RolePermission
	for _, roleID := range roleIDs {
		record, ok := s.grants[models.Subject{Type: models.SubjectRole, ID: roleID}][permissionName]
		if !ok {
			continue
		}
		grants = append(grants, s.roleGrant(roleID, permissionName, record))
	}
	return grants, nil
}

func (s *fakeGrantStore) ListDirect(ctx context.Context, userID string) ([]*models.UserPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var grants []*models.UserPermission
	for name, record := range s.grants[models.Subject{Type: models.SubjectUser, ID: userID}] {
		grants = append(grants, &models.UserPermission{
			UserID:         userID,
			PermissionName: name,
			GrantedAt:      record.grantedAt,
			GrantedBy:      record.grantedBy,
			Reason:         record.reason,
			ExpiresAt:      record.expiresAt,
			RevokedAt:      record.revokedAt,
			RevokedBy:      record.revokedBy,
		})
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].PermissionName < grants[j].PermissionName })
	return grants, nil
}

func (s *fakeGrantStore) ListForRole(ctx context.Context, roleID string) ([]*models.RolePermission, error) {
	return s.ListForRoles(ctx, []string{roleID})
}

func (s *fakeGrantStore) ListForRoles(ctx context.Context, roleIDs []string) ([]*models.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var grants []*models.RolePermission
	for _, roleID := range roleIDs {
		for name, record := range s.grants[models.Subject{Type: models.SubjectRole, ID: roleID}] {
			grants = append(grants, s.roleGrant(roleID, name, record))
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].PermissionName < grants[j].PermissionName })
	return grants, nil
}

func (s *fakeGrantStore) roleGrant(roleID, permissionName string, record *fakeGrantRecord) *models.RolePermission {
	return &models.RolePermission{
		RoleID:         roleID,
		PermissionName: permissionName,
		GrantedAt:      record.grantedAt,
		GrantedBy:      record.grantedBy,
		Reason:         record.reason,
		ExpiresAt:      record.expiresAt,
		RevokedAt:      record.revokedAt,
		RevokedBy:      record.revokedBy,
	}
}

func (s *fakeGrantStore) WithSubjectLock(ctx context.Context, subject models.Subject, fn func(ops repository.GrantTxOps) error) error {
	if subject.Type != models.SubjectUser && subject.Type != models.SubjectRole {
		return errs.NewValidation("subject_type", "unknown subject type")
	}
	if subject.ID == "" {
		return errs.NewValidation("subject_id", "subject id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeTxOps{store: s, subject: subject})
}

// fakeTxOps mutates the store while the caller holds its lock.
type fakeTxOps struct {
	store   *fakeGrantStore
	subject models.Subject
}

func (t *fakeTxOps) ActiveNames() (map[string]bool, error) {
	now := time.Now()
	active := make(map[string]bool)
	for name, record := range t.store.grants[t.subject] {
		if record.statusAt(now) == models.StatusActive {
			active[name] = true
		}
	}
	return active, nil
}

func (t *fakeTxOps) Grant(p repository.GrantParams) (*models.GrantChange, error) {
	now := time.Now()
	if p.PermissionName == "" {
		return nil, errs.NewValidation("permission", "permission name cannot be empty")
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return nil, errs.NewValidation("expires_at", "expiry must be in the future")
	}
	if !t.store.permissions[p.PermissionName] {
		return nil, fmt.Errorf("permission '%s': %w", p.PermissionName, errs.ErrNotFound)
	}

	change := &models.GrantChange{
		Changed:       true,
		PreviousState: models.StatusAbsent,
		NewState:      models.StatusActive,
		CorrelationID: p.CorrelationID,
	}

	record, ok := t.store.grants[t.subject][p.PermissionName]
	if ok {
		status := record.statusAt(now)
		sameExpiry := (record.expiresAt == nil) == (p.ExpiresAt == nil) &&
			(record.expiresAt == nil || record.expiresAt.Equal(*p.ExpiresAt))
		sameReason := (record.reason == nil) == (p.Reason == nil) &&
			(record.reason == nil || *record.reason == *p.Reason)
		if status == models.StatusActive && sameExpiry && sameReason {
			change.Changed = false
			change.PreviousState = models.StatusActive
			return change, nil
		}
		change.PreviousState = status
	}

	if t.store.grants[t.subject] == nil {
		t.store.grants[t.subject] = make(map[string]*fakeGrantRecord)
	}
	t.store.grants[t.subject][p.PermissionName] = &fakeGrantRecord{
		grantedAt: now,
		grantedBy: p.Actor,
		reason:    p.Reason,
		expiresAt: p.ExpiresAt,
	}

	err := t.AppendAudit(&models.PermissionAudit{
		SubjectType:    t.subject.Type,
		SubjectID:      t.subject.ID,
		PermissionName: p.PermissionName,
		Action:         p.Action,
		Actor:          p.Actor,
		Reason:         p.Reason,
		PreviousState:  change.PreviousState,
		NewState:       change.NewState,
		CorrelationID:  p.CorrelationID,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (t *fakeTxOps) Revoke(p repository.RevokeParams) (*models.GrantChange, error) {
	now := time.Now()
	record, ok := t.store.grants[t.subject][p.PermissionName]
	if !ok {
		return &models.GrantChange{
			Changed:       false,
			PreviousState: models.StatusAbsent,
			NewState:      models.StatusAbsent,
			CorrelationID: p.CorrelationID,
		}, nil
	}

	status := record.statusAt(now)
	if status != models.StatusActive {
		return &models.GrantChange{
			Changed:       false,
			PreviousState: status,
			NewState:      status,
			CorrelationID: p.CorrelationID,
		}, nil
	}

	record.revokedAt = timePtr(now)
	record.revokedBy = strPtr(p.Actor)

	err := t.AppendAudit(&models.PermissionAudit{
		SubjectType:    t.subject.Type,
		SubjectID:      t.subject.ID,
		PermissionName: p.PermissionName,
		Action:         p.Action,
		Actor:          p.Actor,
		Reason:         p.Reason,
		PreviousState:  models.StatusActive,
		NewState:       models.StatusRevoked,
		CorrelationID:  p.CorrelationID,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	return &models.GrantChange{
		Changed:       true,
		PreviousState: models.StatusActive,
		NewState:      models.StatusRevoked,
		CorrelationID: p.CorrelationID,
	}, nil
}

func (t *fakeTxOps) AppendAudit(e *models.PermissionAudit) error {
	key := auditKey{
		correlationID: e.CorrelationID,
		subjectType:   e.SubjectType,
		subjectID:     e.SubjectID,
		permission:    e.PermissionName,
		action:        e.Action,
	}
	if t.store.auditSeen[key] {
		return nil
	}
	t.store.auditSeen[key] = true
	t.store.audits = append(t.store.audits, e)
	return nil
}

// fakeRoles is an in-memory RoleMembershipProvider.
type fakeRoles struct {
	userRoles map[string][]string
	roleUsers map[string][]string
	err       error
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{
		userRoles: make(map[string][]string),
		roleUsers: make(map[string][]string),
	}
}

func (r *fakeRoles) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.userRoles[userID], nil
}

func (r *fakeRoles) GetRoleUsers(ctx context.Context, roleID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.roleUsers[roleID], nil
}

// fakeCache is an in-memory EffectiveCache that counts invalidations.
type fakeCache struct {
	mu               sync.Mutex
	entries          map[string][]string
	invalidatedUsers []string
	invalidateAll    int
	getErr           error
	setErr           error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]string)}
}

func (c *fakeCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	permissions, ok := c.entries[userID]
	return permissions, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, userID string, permissions []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[userID] = permissions
	return nil
}

func (c *fakeCache) InvalidateUser(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidatedUsers = append(c.invalidatedUsers, userID)
	return nil
}

func (c *fakeCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]string)
	c.invalidateAll++
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []event.PermissionChangeEvent
}

func (p *fakePublisher) PublishPermissionChange(ctx context.Context, e event.PermissionChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}
