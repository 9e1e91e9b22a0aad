package testhelper

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
)

var errForced = errors.New("forced failure")

// MockHypervisor is an in-memory VM API. Servers get sequential ids so
// tests can assert on the external ref an operation produced.
type MockHypervisor struct {
	mu sync.Mutex

	nextID  int64
	Servers map[string]provisioning.ServerRequest
	Powered map[string]bool
	Calls   []string

	FailCreate bool
	// HangCreate blocks CreateServer until the context ends, imitating
	// an unresponsive backend.
	HangCreate bool
	FailFind   bool
	FailDelete bool
	FailPower  bool
	FailResize bool
	Err        error
}

func NewMockHypervisor() *MockHypervisor {
	return &MockHypervisor{
		nextID:  1000,
		Servers: make(map[string]provisioning.ServerRequest),
		Powered: make(map[string]bool),
	}
}

func (m *MockHypervisor) failure() error {
	if m.Err != nil {
		return m.Err
	}
	return errForced
}

func (m *MockHypervisor) CreateServer(ctx context.Context, req provisioning.ServerRequest) (string, error) {
	m.mu.Lock()
	hang := m.HangCreate
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "CreateServer:"+req.Name)
	if m.FailCreate {
		return "", m.failure()
	}
	m.nextID++
	ref := strconv.FormatInt(m.nextID, 10)
	m.Servers[ref] = req
	m.Powered[ref] = true
	return ref, nil
}

func (m *MockHypervisor) FindServer(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "FindServer:"+name)
	if m.FailFind {
		return "", m.failure()
	}
	for ref, req := range m.Servers {
		if req.Name == name {
			return ref, nil
		}
	}
	return "", nil
}

func (m *MockHypervisor) DeleteServer(_ context.Context, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "DeleteServer:"+externalRef)
	if m.FailDelete {
		return m.failure()
	}
	delete(m.Servers, externalRef)
	delete(m.Powered, externalRef)
	return nil
}

func (m *MockHypervisor) PowerOff(_ context.Context, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "PowerOff:"+externalRef)
	if m.FailPower {
		return m.failure()
	}
	m.Powered[externalRef] = false
	return nil
}

func (m *MockHypervisor) PowerOn(_ context.Context, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "PowerOn:"+externalRef)
	if m.FailPower {
		return m.failure()
	}
	m.Powered[externalRef] = true
	return nil
}

func (m *MockHypervisor) ResizeServer(_ context.Context, externalRef, serverType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "ResizeServer:"+externalRef+":"+serverType)
	if m.FailResize {
		return m.failure()
	}
	req := m.Servers[externalRef]
	req.ServerType = serverType
	m.Servers[externalRef] = req
	return nil
}
