package testhelper

import (
	"context"
	"sync"
)

// MockDatabaseAdmin is an in-memory stand-in for the shared cluster's
// administrative connection. Calls are recorded in order, and any step
// can be forced to fail to exercise rollback paths.
type MockDatabaseAdmin struct {
	mu sync.Mutex

	Databases map[string]bool
	Roles     map[string]bool
	Calls     []string

	FailCreateDatabase bool
	FailCreateRole     bool
	FailGrant          bool
	FailDropDatabase   bool
	FailDropRole       bool
	Err                error
}

func NewMockDatabaseAdmin() *MockDatabaseAdmin {
	return &MockDatabaseAdmin{
		Databases: make(map[string]bool),
		Roles:     make(map[string]bool),
	}
}

func (m *MockDatabaseAdmin) record(call string) {
	m.Calls = append(m.Calls, call)
}

func (m *MockDatabaseAdmin) failure() error {
	if m.Err != nil {
		return m.Err
	}
	return errForced
}

func (m *MockDatabaseAdmin) DatabaseExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DatabaseExists:" + name)
	return m.Databases[name], nil
}

func (m *MockDatabaseAdmin) RoleExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RoleExists:" + name)
	return m.Roles[name], nil
}

func (m *MockDatabaseAdmin) CreateDatabase(_ context.Context, name, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateDatabase:" + name)
	if m.FailCreateDatabase {
		return m.failure()
	}
	m.Databases[name] = true
	return nil
}

func (m *MockDatabaseAdmin) CreateRole(_ context.Context, name, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateRole:" + name)
	if m.FailCreateRole {
		return m.failure()
	}
	m.Roles[name] = true
	return nil
}

func (m *MockDatabaseAdmin) GrantPrivileges(_ context.Context, database, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GrantPrivileges:" + database + ":" + role)
	if m.FailGrant {
		return m.failure()
	}
	return nil
}

func (m *MockDatabaseAdmin) DropDatabase(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DropDatabase:" + name)
	if m.FailDropDatabase {
		return m.failure()
	}
	delete(m.Databases, name)
	return nil
}

func (m *MockDatabaseAdmin) DropRole(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DropRole:" + name)
	if m.FailDropRole {
		return m.failure()
	}
	delete(m.Roles, name)
	return nil
}

func (m *MockDatabaseAdmin) TerminateConnections(_ context.Context, database string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("TerminateConnections:" + database)
	return nil
}
