package provisioning

import (
	"context"
)

// Result is the opaque success payload of a provisioning job, e.g. a
// connection string or the backing system's id.
type Result struct {
	ExternalRef string            `json:"external_ref"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// DatabaseAdmin is the administrative connection to the shared
// database cluster used for tenant database provisioning.
type DatabaseAdmin interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)
	RoleExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name, owner string) error
	CreateRole(ctx context.Context, name, password string) error
	GrantPrivileges(ctx context.Context, database, role string) error
	DropDatabase(ctx context.Context, name string) error
	DropRole(ctx context.Context, name string) error
	// TerminateConnections kills active sessions so the drop cannot
	// fail on open connections.
	TerminateConnections(ctx context.Context, database string) error
}

// ServerRequest carries everything the hypervisor needs to create a
// virtual machine.
type ServerRequest struct {
	Name       string
	ServerType string
	Location   string
	Image      string
	Labels     map[string]string
}

// Hypervisor is the virtual machine API behind compute jobs. All calls
// block on the external system and honour the passed context.
type Hypervisor interface {
	// CreateServer returns the hypervisor's id for the new machine.
	CreateServer(ctx context.Context, req ServerRequest) (string, error)
	// FindServer resolves a server name to the hypervisor's id, ""
	// when no such server exists. Create retries use it to spot a
	// machine whose id never made it into the instance row.
	FindServer(ctx context.Context, name string) (string, error)
	DeleteServer(ctx context.Context, externalRef string) error
	PowerOff(ctx context.Context, externalRef string) error
	PowerOn(ctx context.Context, externalRef string) error
	ResizeServer(ctx context.Context, externalRef, serverType string) error
}
