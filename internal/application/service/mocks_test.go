package service

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// mockTxManager runs fn directly and counts transactions
type mockTxManager struct {
	mu    sync.Mutex
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(ctx)
}

type mockActivityService struct {
	mu      sync.Mutex
	records []*entity.ActivityRecord

	recordActivityFunc func(ctx context.Context, record *entity.ActivityRecord) error
}

func (m *mockActivityService) RecordOutput(ctx context.Context, output *entity.AgentOutput) error {
	return nil
}

func (m *mockActivityService) RecordActivity(ctx context.Context, record *entity.ActivityRecord) error {
	if m.recordActivityFunc != nil {
		return m.recordActivityFunc(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *mockActivityService) GetActivity(ctx context.Context, userID string, limit int) ([]*entity.ActivityRecord, error) {
	return nil, nil
}

func (m *mockActivityService) GetTaskActivity(ctx context.Context, taskID string) ([]*entity.ActivityRecord, error) {
	return nil, nil
}

func (m *mockActivityService) ListOutputs(ctx context.Context, userID string, limit int) ([]*entity.AgentOutput, error) {
	return nil, nil
}

func (m *mockActivityService) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.EventType)
	}
	return out
}

type mockOutputRepo struct {
	createFunc     func(ctx context.Context, output *entity.AgentOutput) error
	listByUserFunc func(ctx context.Context, userID string, limit int) ([]*entity.AgentOutput, error)
}

func (m *mockOutputRepo) Create(ctx context.Context, output *entity.AgentOutput) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, output)
	}
	output.ID = 1
	return nil
}

func (m *mockOutputRepo) ListByTask(ctx context.Context, taskID string) ([]*entity.AgentOutput, error) {
	return nil, nil
}

func (m *mockOutputRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.AgentOutput, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID, limit)
	}
	return nil, nil
}

type mockActivityRepo struct {
	createFunc     func(ctx context.Context, record *entity.ActivityRecord) error
	listByUserFunc func(ctx context.Context, userID string, limit int) ([]*entity.ActivityRecord, error)
}

func (m *mockActivityRepo) Create(ctx context.Context, record *entity.ActivityRecord) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, record)
	}
	return nil
}

func (m *mockActivityRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.ActivityRecord, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (m *mockActivityRepo) ListByTask(ctx context.Context, taskID string) ([]*entity.ActivityRecord, error) {
	return nil, nil
}

type mockBrakeRepo struct {
	getFunc    func(ctx context.Context, userID string) (*entity.BrakeState, error)
	upsertFunc func(ctx context.Context, state *entity.BrakeState) error
}

func (m *mockBrakeRepo) Get(ctx context.Context, userID string) (*entity.BrakeState, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID)
	}
	return entity.InactiveBrake(userID), nil
}

func (m *mockBrakeRepo) Upsert(ctx context.Context, state *entity.BrakeState) error {
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, state)
	}
	return nil
}

type mockBrakeChecker struct {
	active bool
	reason string
	err    error
}

func (m *mockBrakeChecker) IsActive(ctx context.Context, userID string) (bool, *entity.BrakeState, error) {
	if m.err != nil {
		return false, nil, m.err
	}
	return m.active, &entity.BrakeState{UserID: userID, Active: m.active, Reason: m.reason}, nil
}

// memAutonomyRepo is a map-backed AutonomyRepository
type memAutonomyRepo struct {
	prefs   map[string]entity.AutonomyLevel
	orgs    map[string]*entity.Organization
	members map[string]*entity.OrgMembership

	getMembershipErr error
}

func newMemAutonomyRepo() *memAutonomyRepo {
	return &memAutonomyRepo{
		prefs:   make(map[string]entity.AutonomyLevel),
		orgs:    make(map[string]*entity.Organization),
		members: make(map[string]*entity.OrgMembership),
	}
}

func (m *memAutonomyRepo) GetUserAutonomy(ctx context.Context, userID string) (*entity.UserAutonomy, error) {
	level, ok := m.prefs[userID]
	if !ok {
		return nil, nil
	}
	return &entity.UserAutonomy{UserID: userID, Level: level}, nil
}

func (m *memAutonomyRepo) SetUserAutonomy(ctx context.Context, userID string, level entity.AutonomyLevel) error {
	m.prefs[userID] = level
	return nil
}

func (m *memAutonomyRepo) GetOrganization(ctx context.Context, orgID string) (*entity.Organization, error) {
	org, ok := m.orgs[orgID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return org, nil
}

func (m *memAutonomyRepo) SaveOrganization(ctx context.Context, org *entity.Organization) error {
	m.orgs[org.ID] = org
	return nil
}

func (m *memAutonomyRepo) GetMembership(ctx context.Context, userID string) (*entity.OrgMembership, error) {
	if m.getMembershipErr != nil {
		return nil, m.getMembershipErr
	}
	return m.members[userID], nil
}

func (m *memAutonomyRepo) AddMember(ctx context.Context, orgID, userID string) error {
	m.members[userID] = &entity.OrgMembership{OrgID: orgID, UserID: userID}
	return nil
}

func (m *memAutonomyRepo) SetOverride(ctx context.Context, orgID, userID string, level *entity.AutonomyLevel) error {
	membership, ok := m.members[userID]
	if !ok || membership.OrgID != orgID {
		return entity.ErrNotFound
	}
	membership.OverrideLevel = level
	return nil
}

// memApprovalRepo keeps items in memory with the same conditional
// update semantics as the SQL repository
type memApprovalRepo struct {
	mu    sync.Mutex
	items map[string]*entity.ApprovalItem

	createErr error
}

func newMemApprovalRepo() *memApprovalRepo {
	return &memApprovalRepo{items: make(map[string]*entity.ApprovalItem)}
}

func (m *memApprovalRepo) Create(ctx context.Context, item *entity.ApprovalItem) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *item
	m.items[item.ID] = &copied
	return nil
}

func (m *memApprovalRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (m *memApprovalRepo) GetByTask(ctx context.Context, taskID, actionName string) (*entity.ApprovalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.TaskID == taskID && item.ActionName == actionName {
			copied := *item
			return &copied, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (m *memApprovalRepo) ListPending(ctx context.Context, userID string, now time.Time) ([]*entity.ApprovalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalItem
	for _, item := range m.items {
		if item.UserID == userID && item.Status == entity.ApprovalStatusPending && item.ExpiresAt.After(now) {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memApprovalRepo) Resolve(ctx context.Context, id string, status entity.ApprovalStatus, payload map[string]interface{}, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return entity.ErrNotFound
	}
	if item.Status != entity.ApprovalStatusPending {
		return entity.ErrAlreadyResolved
	}
	item.Status = status
	item.ResolvedAt = &resolvedAt
	if payload != nil {
		item.Payload = payload
	}
	return nil
}

func (m *memApprovalRepo) ExpireStale(ctx context.Context, now time.Time) ([]*entity.ApprovalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalItem
	for _, item := range m.items {
		if item.Status == entity.ApprovalStatusPending && !item.ExpiresAt.After(now) {
			item.Status = entity.ApprovalStatusExpired
			resolved := now
			item.ResolvedAt = &resolved
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

// recordingStrategy counts Perform calls and keeps the payloads it was given
type recordingStrategy struct {
	mu       sync.Mutex
	performs []entity.ProposedAction

	performErr error
}

func (s *recordingStrategy) Execute(ctx context.Context, inv port.Invocation) (*entity.AgentOutput, error) {
	return &entity.AgentOutput{Action: "noop"}, nil
}

func (s *recordingStrategy) Perform(ctx context.Context, userID string, action entity.ProposedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.performs = append(s.performs, action)
	return s.performErr
}

func (s *recordingStrategy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.performs)
}

type mockResolver struct {
	strategies map[entity.AgentType]port.Strategy
}

func (m *mockResolver) Resolve(agentType entity.AgentType) (port.Strategy, error) {
	s, ok := m.strategies[agentType]
	if !ok {
		return nil, entity.ErrUnknownAgentType
	}
	return s, nil
}

type mockSender struct {
	sendTextFunc func(ctx context.Context, receiveIDType, receiveID, content string) (string, error)
	sent         []string
}

func (m *mockSender) SendText(ctx context.Context, receiveIDType, receiveID, content string) (string, error) {
	m.sent = append(m.sent, content)
	if m.sendTextFunc != nil {
		return m.sendTextFunc(ctx, receiveIDType, receiveID, content)
	}
	return "om_1", nil
}

type countingMetrics struct {
	port.NopMetrics
	mu       sync.Mutex
	resolved map[string]int
	expired  int
}

func (m *countingMetrics) ApprovalResolved(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved == nil {
		m.resolved = make(map[string]int)
	}
	m.resolved[status]++
}

func (m *countingMetrics) ApprovalsExpired(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired += count
}
