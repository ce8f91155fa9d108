// Package neo4j implements mcp.StructuredDriver for a graph backend using
// neo4j-go-driver/v5. Results are flattened through mcp.QueryResult.Labels
// the way the other structured drivers stringify their own native
// identifiers (document store object IDs, wide-column row maps).
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/mcp"
)

// Driver implements mcp.StructuredDriver against one neo4j.DriverWithContext.
type Driver struct {
	uri      string
	username string
	password string
	database string
	driver   neo4j.DriverWithContext
}

// New builds an unconnected Driver for uri/database, authenticating with
// username/password.
func New(uri, username, password, database string) *Driver {
	return &Driver{uri: uri, username: username, password: password, database: database}
}

func (d *Driver) Connect(ctx context.Context) error {
	drv, err := neo4j.NewDriverWithContext(d.uri, neo4j.BasicAuth(d.username, d.password, ""))
	if err != nil {
		return err
	}
	if err := drv.VerifyConnectivity(ctx); err != nil {
		return err
	}
	d.driver = drv
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.driver == nil {
		return coreerrors.New(coreerrors.KindConnectionFailed, "neo4j", "Ping", "driver not connected")
	}
	return d.driver.VerifyConnectivity(ctx)
}

// ExecuteStructured supports cypherRead, cypherWrite, detachDeleteAll, and
// dropIndex operations. target names the index for dropIndex; it is
// otherwise unused since cypher payloads are self-contained.
func (d *Driver) ExecuteStructured(ctx context.Context, target, operation string, payload map[string]any) (mcp.QueryResult, error) {
	if d.driver == nil {
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindConnectionFailed, "neo4j", "ExecuteStructured", "driver not connected")
	}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database})
	defer session.Close(ctx)

	switch operation {
	case "cypherRead":
		return d.runCypher(ctx, session.ExecuteRead, payload)
	case "cypherWrite":
		return d.runCypher(ctx, session.ExecuteWrite, payload)
	case "detachDeleteAll":
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		})
		if err != nil {
			return mcp.QueryResult{}, wrapNeo4jError(err)
		}
		return mcp.QueryResult{}, nil
	case "dropIndex":
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, fmt.Sprintf("DROP INDEX %s IF EXISTS", target), nil)
		})
		if err != nil {
			return mcp.QueryResult{}, wrapNeo4jError(err)
		}
		return mcp.QueryResult{}, nil
	default:
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindUnsupportedOperation, "neo4j", "ExecuteStructured", "unsupported operation %q", operation)
	}
}

type executor func(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)

func (d *Driver) runCypher(ctx context.Context, execute executor, payload map[string]any) (mcp.QueryResult, error) {
	cypher, _ := payload["cypher"].(string)
	params, _ := payload["params"].(map[string]any)

	result, err := execute(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return mcp.QueryResult{}, wrapNeo4jError(err)
	}

	records, _ := result.([]*neo4j.Record)
	labels := make([]string, 0, len(records))
	for _, rec := range records {
		labels = append(labels, fmt.Sprint(rec.Values))
	}
	return mcp.QueryResult{Labels: labels}, nil
}

func (d *Driver) Close(ctx context.Context) error {
	if d.driver == nil {
		return nil
	}
	return d.driver.Close(ctx)
}

var _ mcp.StructuredDriver = (*Driver)(nil)
