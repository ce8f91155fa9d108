// Package mongo implements mcp.StructuredDriver for MongoDB using the
// official go.mongodb.org/mongo-driver stack.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/mcp"
)

// Driver implements mcp.StructuredDriver against one *mongo.Client.
type Driver struct {
	uri      string
	database string
	client   *mongo.Client
}

// New builds an unconnected Driver for uri/database.
func New(uri, database string) *Driver {
	return &Driver{uri: uri, database: database}
}

func (d *Driver) Connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.uri))
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}
	d.client = client
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.client == nil {
		return coreerrors.New(coreerrors.KindConnectionFailed, "mongo", "Ping", "driver not connected")
	}
	return d.client.Ping(ctx, nil)
}

// ExecuteStructured dispatches a document-store operation against target.
// Supported operations: find, insertOne, updateMany, deleteMany,
// dropCollection; any other operation name is rejected. Payload fields are
// not validated: a missing or non-map "filter" is treated as an empty
// filter, which matches every document.
func (d *Driver) ExecuteStructured(ctx context.Context, target, operation string, payload map[string]any) (mcp.QueryResult, error) {
	if d.client == nil {
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindConnectionFailed, "mongo", "ExecuteStructured", "driver not connected")
	}
	coll := d.client.Database(d.database).Collection(target)
	filter := bsonFilter(payload["filter"])

	switch operation {
	case "find":
		cursor, err := coll.Find(ctx, filter)
		if err != nil {
			return mcp.QueryResult{}, wrapMongoError(err)
		}
		defer cursor.Close(ctx)

		var docs []bson.M
		if err := cursor.All(ctx, &docs); err != nil {
			return mcp.QueryResult{}, wrapMongoError(err)
		}
		rows := make([][]any, 0, len(docs))
		for _, doc := range docs {
			rows = append(rows, []any{stringifyObjectIDs(doc)})
		}
		return mcp.QueryResult{Columns: []string{"document"}, Rows: rows}, nil

	case "insertOne":
		doc := payload["document"]
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return mcp.QueryResult{}, wrapMongoError(err)
		}
		return mcp.QueryResult{RowsAffected: 1, Rows: [][]any{{fmt.Sprint(res.InsertedID)}}}, nil

	case "updateMany":
		update := bson.M{"$set": payload["update"]}
		res, err := coll.UpdateMany(ctx, filter, update)
		if err != nil {
			return mcp.QueryResult{}, wrapMongoError(err)
		}
		return mcp.QueryResult{RowsAffected: res.ModifiedCount}, nil

	case "deleteMany":
		res, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return mcp.QueryResult{}, wrapMongoError(err)
		}
		return mcp.QueryResult{RowsAffected: res.DeletedCount}, nil

	case "dropCollection":
		if err := coll.Drop(ctx); err != nil {
			return mcp.QueryResult{}, wrapMongoError(err)
		}
		return mcp.QueryResult{}, nil

	default:
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindUnsupportedOperation, "mongo", "ExecuteStructured", "unsupported operation %q", operation)
	}
}

func bsonFilter(v any) bson.M {
	m, ok := v.(map[string]any)
	if !ok {
		return bson.M{}
	}
	out := bson.M{}
	for k, val := range m {
		out[k] = val
	}
	return out
}

// stringifyObjectIDs converts ObjectID values to their hex string form so
// the common QueryResult never carries a driver-specific type, per
// spec.md's "object-ids are stringified" normalization rule.
func stringifyObjectIDs(doc bson.M) bson.M {
	out := bson.M{}
	for k, v := range doc {
		if oid, ok := v.(primitive.ObjectID); ok {
			out[k] = oid.Hex()
			continue
		}
		if oid, ok := v.(fmt.Stringer); ok {
			out[k] = oid.String()
			continue
		}
		out[k] = v
	}
	return out
}

func (d *Driver) Close(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Disconnect(ctx)
}

var _ mcp.StructuredDriver = (*Driver)(nil)
