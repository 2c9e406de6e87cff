package dynamostore

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo keeps tables in memory and understands the key conditions the
// expression builder produces for equality and begins_with.
type fakeDynamo struct {
	mu      sync.Mutex
	tables  map[string]*fakeTable
	creates []*dynamodb.CreateTableInput
	failPut map[string]error
}

type fakeTable struct {
	desc  *types.TableDescription
	hash  string
	sort  string
	items map[string]map[string]types.AttributeValue
}

var _ API = (*fakeDynamo)(nil)

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]*fakeTable), failPut: make(map[string]error)}
}

func (f *fakeDynamo) addTable(name string, keys []types.KeySchemaElement, defs []types.AttributeDefinition) {
	t := &fakeTable{
		desc: &types.TableDescription{
			TableName:            aws.String(name),
			TableStatus:          types.TableStatusActive,
			KeySchema:            keys,
			AttributeDefinitions: defs,
		},
		items: make(map[string]map[string]types.AttributeValue),
	}
	for _, k := range keys {
		if k.KeyType == types.KeyTypeHash {
			t.hash = aws.ToString(k.AttributeName)
		} else {
			t.sort = aws.ToString(k.AttributeName)
		}
	}
	f.tables[name] = t
}

func (f *fakeDynamo) table(name *string) (*fakeTable, error) {
	t := f.tables[aws.ToString(name)]
	if t == nil {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (t *fakeTable) key(item map[string]types.AttributeValue) string {
	k := str(item[t.hash])
	if t.sort != "" {
		k += "\x00\x00" + str(item[t.sort])
	}
	return k
}

func (t *fakeTable) sorted() []map[string]types.AttributeValue {
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]map[string]types.AttributeValue, len(keys))
	for i, k := range keys {
		out[i] = t.items[k]
	}
	return out
}

// itemsOf returns the items of a table in key order.
func (f *fakeDynamo) itemsOf(name string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[name]
	if t == nil {
		return nil
	}
	return t.sorted()
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: t.items[t.key(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPut[aws.ToString(in.TableName)]; err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	t.items[t.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	delete(t.items, t.key(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

var (
	eqCondRe         = regexp.MustCompile(`(#\w+) = (:\w+)`)
	beginsWithCondRe = regexp.MustCompile(`begins_with\s*\((#\w+),\s*(:\w+)\)`)
)

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	cond := aws.ToString(in.KeyConditionExpression)
	names, values := in.ExpressionAttributeNames, in.ExpressionAttributeValues

	var out []map[string]types.AttributeValue
	for _, item := range t.sorted() {
		ok := true
		for _, m := range eqCondRe.FindAllStringSubmatch(cond, -1) {
			ok = ok && str(item[names[m[1]]]) == str(values[m[2]])
		}
		for _, m := range beginsWithCondRe.FindAllStringSubmatch(cond, -1) {
			ok = ok && strings.HasPrefix(str(item[names[m[1]]]), str(values[m[2]]))
		}
		if ok {
			out = append(out, item)
		}
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	items := t.sorted()
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: t.desc}, nil
}

func (f *fakeDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, in)
	f.addTable(aws.ToString(in.TableName), in.KeySchema, in.AttributeDefinitions)
	return &dynamodb.CreateTableOutput{TableDescription: f.tables[aws.ToString(in.TableName)].desc}, nil
}
