// Package cassandra implements mcp.StructuredDriver for a wide-column
// backend using gocql.
package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/mcp"
)

// Driver implements mcp.StructuredDriver against one *gocql.Session.
type Driver struct {
	hosts    []string
	keyspace string
	session  *gocql.Session
}

// New builds an unconnected Driver for hosts/keyspace.
func New(hosts []string, keyspace string) *Driver {
	return &Driver{hosts: hosts, keyspace: keyspace}
}

func (d *Driver) Connect(ctx context.Context) error {
	cluster := gocql.NewCluster(d.hosts...)
	cluster.Keyspace = d.keyspace
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		return err
	}
	d.session = session
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.session == nil {
		return coreerrors.New(coreerrors.KindConnectionFailed, "cassandra", "Ping", "driver not connected")
	}
	return d.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

// ExecuteStructured supports select, insert, dropTable, dropKeyspace, and
// truncate operations against target (a table name, or the keyspace
// itself for dropKeyspace).
func (d *Driver) ExecuteStructured(ctx context.Context, target, operation string, payload map[string]any) (mcp.QueryResult, error) {
	if d.session == nil {
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindConnectionFailed, "cassandra", "ExecuteStructured", "driver not connected")
	}

	switch operation {
	case "select":
		cql, _ := payload["cql"].(string)
		args, _ := payload["args"].([]any)
		iter := d.session.Query(cql, args...).WithContext(ctx).Iter()
		columns := make([]string, len(iter.Columns()))
		for i, c := range iter.Columns() {
			columns[i] = c.Name
		}
		var rows [][]any
		row := make(map[string]any)
		for iter.MapScan(row) {
			r := make([]any, 0, len(columns))
			for _, c := range columns {
				r = append(r, row[c])
			}
			rows = append(rows, r)
			row = make(map[string]any)
		}
		if err := iter.Close(); err != nil {
			return mcp.QueryResult{}, wrapCassandraError(err)
		}
		return mcp.QueryResult{Columns: columns, Rows: rows}, nil

	case "insert":
		cql, _ := payload["cql"].(string)
		args, _ := payload["args"].([]any)
		if err := d.session.Query(cql, args...).WithContext(ctx).Exec(); err != nil {
			return mcp.QueryResult{}, wrapCassandraError(err)
		}
		return mcp.QueryResult{RowsAffected: 1}, nil

	case "truncate":
		if err := d.session.Query(fmt.Sprintf("TRUNCATE %s", target)).WithContext(ctx).Exec(); err != nil {
			return mcp.QueryResult{}, wrapCassandraError(err)
		}
		return mcp.QueryResult{}, nil

	case "dropTable":
		if err := d.session.Query(fmt.Sprintf("DROP TABLE IF EXISTS %s", target)).WithContext(ctx).Exec(); err != nil {
			return mcp.QueryResult{}, wrapCassandraError(err)
		}
		return mcp.QueryResult{}, nil

	case "dropKeyspace":
		if err := d.session.Query(fmt.Sprintf("DROP KEYSPACE IF EXISTS %s", target)).WithContext(ctx).Exec(); err != nil {
			return mcp.QueryResult{}, wrapCassandraError(err)
		}
		return mcp.QueryResult{}, nil

	default:
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindUnsupportedOperation, "cassandra", "ExecuteStructured", "unsupported operation %q", operation)
	}
}

func (d *Driver) Close(ctx context.Context) error {
	if d.session == nil {
		return nil
	}
	d.session.Close()
	return nil
}

var _ mcp.StructuredDriver = (*Driver)(nil)
