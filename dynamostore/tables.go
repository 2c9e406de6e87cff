package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	DefaultBase = "who-is-who-db"

	attrID       = "_whoid"
	attrPath     = "path"
	attrValueID  = "val_whoid"
	attrPathTime = "path_time"
	attrDoc      = "doc"
)

// TableConfig names and provisions the three tables. It is a value: build
// one per environment and pass it to New.
type TableConfig struct {
	Env    string
	Base   string
	Suffix string

	// Zero capacities select on-demand billing.
	ReadCapacity  int64
	WriteCapacity int64

	// CreateTables makes EnsureTables create missing tables instead of
	// failing. Meant for test and development environments.
	CreateTables bool

	// WaitTimeout bounds how long EnsureTables waits for a created table to
	// become active. Defaults to two minutes.
	WaitTimeout time.Duration
}

type tableKind string

const (
	objectsTable tableKind = "Objects"
	pathsTable   tableKind = "Paths"
	historyTable tableKind = "History"
)

var allTables = []tableKind{objectsTable, pathsTable, historyTable}

type tableSchema struct {
	hash  string
	sort string
}

var schemas = map[tableKind]tableSchema{
	objectsTable: {hash: attrID},
	pathsTable:   {hash: attrPath, sort: attrValueID},
	historyTable: {hash: attrID, sort: attrPathTime},
}

// TableName returns "<env>--<base>[-<suffix>]-<kind>".
func (c TableConfig) TableName(kind string) string {
	base := c.Base
	if base == "" {
		base = DefaultBase
	}
	name := c.Env + "--" + base
	if c.Suffix != "" {
		name += "-" + c.Suffix
	}
	return name + "-" + kind
}

func (c TableConfig) table(kind tableKind) string {
	return c.TableName(string(kind))
}

// EnsureTables verifies that all three tables exist with the expected key
// schema, creating missing ones if the config allows it.
func (b *Backend) EnsureTables(ctx context.Context) error {
	for _, kind := range allTables {
		if err := b.ensureTable(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ensureTable(ctx context.Context, kind tableKind) error {
	name := b.cfg.table(kind)
	out, err := b.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		if !b.cfg.CreateTables {
			return fmt.Errorf("table %s does not exist", name)
		}
		if err := b.createTable(ctx, kind); err != nil {
			return err
		}
		out, err = b.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	}
	if err != nil {
		return fmt.Errorf("describe table %s: %w", name, err)
	}
	if err := verifySchema(out.Table, schemas[kind]); err != nil {
		return fmt.Errorf("table %s: %w", name, err)
	}
	b.logger.Debug("dynamostore: table ok", zap.String("table", name))
	return nil
}

func (b *Backend) createTable(ctx context.Context, kind tableKind) error {
	name := b.cfg.table(kind)
	schema := schemas[kind]

	in := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(schema.hash), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(schema.hash), AttributeType: types.ScalarAttributeTypeS},
		},
	}
	if schema.sort != "" {
		in.KeySchema = append(in.KeySchema, types.KeySchemaElement{AttributeName: aws.String(schema.sort), KeyType: types.KeyTypeRange})
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{AttributeName: aws.String(schema.sort), AttributeType: types.ScalarAttributeTypeS})
	}
	if b.cfg.ReadCapacity > 0 || b.cfg.WriteCapacity > 0 {
		in.BillingMode = types.BillingModeProvisioned
		in.ProvisionedThroughput = &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(max(b.cfg.ReadCapacity, 1)),
			WriteCapacityUnits: aws.Int64(max(b.cfg.WriteCapacity, 1)),
		}
	} else {
		in.BillingMode = types.BillingModePayPerRequest
	}

	b.logger.Info("dynamostore: creating table", zap.String("table", name))
	if _, err := b.api.CreateTable(ctx, in); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	timeout := b.cfg.WaitTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	waiter := dynamodb.NewTableExistsWaiter(b.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, timeout); err != nil {
		return fmt.Errorf("waiting for table %s: %w", name, err)
	}
	return nil
}

func verifySchema(desc *types.TableDescription, want tableSchema) error {
	if desc == nil {
		return errors.New("no table description")
	}
	var hash, sortKey string
	for _, el := range desc.KeySchema {
		switch el.KeyType {
		case types.KeyTypeHash:
			hash = aws.ToString(el.AttributeName)
		case types.KeyTypeRange:
			sortKey = aws.ToString(el.AttributeName)
		}
	}
	if hash != want.hash || sortKey != want.sort {
		return fmt.Errorf("key schema is (%q, %q), wanted (%q, %q)", hash, sortKey, want.hash, want.sort)
	}
	for _, def := range desc.AttributeDefinitions {
		name := aws.ToString(def.AttributeName)
		if (name == hash || name == sortKey) && def.AttributeType != types.ScalarAttributeTypeS {
			return fmt.Errorf("key attribute %s has type %s, wanted S", name, def.AttributeType)
		}
	}
	return nil
}
