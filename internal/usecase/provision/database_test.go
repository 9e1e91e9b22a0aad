package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/testhelper"
)

func newTestDatabaseProvisioner(t *testing.T, admin *testhelper.MockDatabaseAdmin) *DatabaseProvisioner {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	return NewDatabaseProvisioner(admin, nil, node, zap.NewNop())
}

func TestValidIdent(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		want  bool
	}{
		{"simple", "tenant_db", true},
		{"leading underscore", "_db", true},
		{"digits", "db42", true},
		{"empty", "", false},
		{"leading digit", "42db", false},
		{"hyphen", "tenant-db", false},
		{"quote injection", `db";DROP DATABASE x;--`, false},
		{"space", "tenant db", false},
		{"too long", string(make([]byte, 64)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validIdent(tt.ident))
		})
	}
}

func TestDatabaseProvision_InvalidIdents(t *testing.T) {
	admin := testhelper.NewMockDatabaseAdmin()
	p := newTestDatabaseProvisioner(t, admin)

	_, err := p.Provision(context.Background(), "sub-1", job.DatabaseSpec{
		TenantID: 1, DatabaseName: "bad-name!", OwnerUsername: "owner",
	})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err))

	_, err = p.Provision(context.Background(), "sub-1", job.DatabaseSpec{
		TenantID: 1, DatabaseName: "gooddb", OwnerUsername: "bad owner",
	})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err))

	// Nothing was created on the cluster.
	assert.Empty(t, admin.Databases)
	assert.Empty(t, admin.Roles)
}

func TestDatabaseProvision_AlreadyExists(t *testing.T) {
	admin := testhelper.NewMockDatabaseAdmin()
	admin.Databases["tenant_db"] = true
	p := newTestDatabaseProvisioner(t, admin)

	_, err := p.Provision(context.Background(), "sub-1", job.DatabaseSpec{
		TenantID: 1, DatabaseName: "tenant_db", OwnerUsername: "tenant_owner",
	})
	assert.Equal(t, provisioning.ClassAlreadyExists, provisioning.ClassOf(err))

	admin = testhelper.NewMockDatabaseAdmin()
	admin.Roles["tenant_owner"] = true
	p = newTestDatabaseProvisioner(t, admin)

	_, err = p.Provision(context.Background(), "sub-1", job.DatabaseSpec{
		TenantID: 1, DatabaseName: "tenant_db", OwnerUsername: "tenant_owner",
	})
	assert.Equal(t, provisioning.ClassAlreadyExists, provisioning.ClassOf(err))
}

func TestDatabaseProvision_RoleFailureRollsBackDatabase(t *testing.T) {
	admin := testhelper.NewMockDatabaseAdmin()
	admin.FailCreateRole = true
	p := newTestDatabaseProvisioner(t, admin)

	_, err := p.Provision(context.Background(), "sub-1", job.DatabaseSpec{
		TenantID: 1, DatabaseName: "tenant_db", OwnerUsername: "tenant_owner",
	})

	assert.Equal(t, provisioning.ClassRolledBack, provisioning.ClassOf(err))
	assert.Contains(t, admin.Calls, "DropDatabase:tenant_db")
	assert.Empty(t, admin.Databases, "database must be dropped again")
	assert.Empty(t, admin.Roles)
}

func TestDatabaseProvision_GrantFailureRollsBackInReverseOrder(t *testing.T) {
	admin := testhelper.NewMockDatabaseAdmin()
	admin.FailGrant = true
	p := newTestDatabaseProvisioner(t, admin)

	_, err := p.Provision(context.Background(), "sub-1", job.DatabaseSpec{
		TenantID: 1, DatabaseName: "tenant_db", OwnerUsername: "tenant_owner",
	})

	assert.Equal(t, provisioning.ClassRolledBack, provisioning.ClassOf(err))
	assert.Empty(t, admin.Databases)
	assert.Empty(t, admin.Roles)

	// Undo runs newest-first: the role goes before the database.
	dropRole, dropDB := -1, -1
	for i, call := range admin.Calls {
		switch call {
		case "DropRole:tenant_owner":
			dropRole = i
		case "DropDatabase:tenant_db":
			dropDB = i
		}
	}
	require.NotEqual(t, -1, dropRole)
	require.NotEqual(t, -1, dropDB)
	assert.Less(t, dropRole, dropDB)
}

func TestDatabaseProvision_RollbackErrorIsRetryableForTransientCause(t *testing.T) {
	admin := testhelper.NewMockDatabaseAdmin()
	admin.FailGrant = true
	p := newTestDatabaseProvisioner(t, admin)

	_, err := p.Provision(context.Background(), "sub-1", job.DatabaseSpec{
		TenantID: 1, DatabaseName: "tenant_db", OwnerUsername: "tenant_owner",
	})

	// The forced failure is unclassified, so the retry policy treats
	// the rolled-back provision as safe to retry from scratch.
	assert.True(t, provisioning.Retryable(err))
}
