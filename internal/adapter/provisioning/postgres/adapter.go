package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
)

// Adapter implements provisioning.DatabaseAdmin over a superuser
// connection to the shared cluster. Identifier inputs are sanitized by
// the provisioner before they reach this layer; quoting here is a
// second line, not the validation.
type Adapter struct {
	adminConnString string
}

func NewAdapter(adminConnString string) *Adapter {
	return &Adapter{adminConnString: adminConnString}
}

func (a *Adapter) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, a.adminConnString)
	if err != nil {
		return nil, provisioning.Transient("database", fmt.Errorf("connect admin db: %w", err))
	}
	return conn, nil
}

func (a *Adapter) DatabaseExists(ctx context.Context, name string) (bool, error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname=$1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check database existence: %w", err)
	}
	return exists, nil
}

func (a *Adapter) RoleExists(ctx context.Context, name string) (bool, error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname=$1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role existence: %w", err)
	}
	return exists, nil
}

func (a *Adapter) CreateDatabase(ctx context.Context, name, owner string) error {
	// Identifiers cannot be parameterized in DDL; both names passed the
	// provisioner's character whitelist before this call.
	query := fmt.Sprintf("CREATE DATABASE %q", name)
	if owner != "" {
		query = fmt.Sprintf("CREATE DATABASE %q OWNER %q", name, owner)
	}
	return a.exec(ctx, "create database", query)
}

func (a *Adapter) CreateRole(ctx context.Context, name, password string) error {
	// The password can be caller supplied; it must be a quoted literal
	// too, not just interpolated.
	query := fmt.Sprintf("CREATE USER %q WITH PASSWORD %s", name, quoteLiteral(password))
	return a.exec(ctx, "create role", query)
}

// quoteLiteral renders a string as a single-quoted SQL literal for DDL
// statements, which cannot take bind parameters. Quotes are doubled
// and the E'' form guards backslashes regardless of
// standard_conforming_strings.
func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "E'" + s + "'"
}

func (a *Adapter) GrantPrivileges(ctx context.Context, database, role string) error {
	query := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %q TO %q", database, role)
	return a.exec(ctx, "grant privileges", query)
}

func (a *Adapter) DropDatabase(ctx context.Context, name string) error {
	return a.exec(ctx, "drop database", fmt.Sprintf("DROP DATABASE IF EXISTS %q", name))
}

func (a *Adapter) DropRole(ctx context.Context, name string) error {
	return a.exec(ctx, "drop role", fmt.Sprintf("DROP USER IF EXISTS %q", name))
}

func (a *Adapter) TerminateConnections(ctx context.Context, database string) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		 WHERE datname = $1 AND pid <> pg_backend_pid()`, database)
	if err != nil {
		return fmt.Errorf("terminate connections: %w", err)
	}
	return nil
}

func (a *Adapter) exec(ctx context.Context, op, query string) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
