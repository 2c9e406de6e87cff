// Package dynamostore is a pathdb.Backend over three DynamoDB tables:
//
//	Objects  _whoid (HASH)                      the document under "doc"
//	Paths    path (HASH), val_whoid (RANGE)     one item per indexed value
//	History  _whoid (HASH), path_time (RANGE)   one item per change
//
// val_whoid is the index encoding of the value, a NUL, then the document id,
// so that exact-match lookups are begins_with queries. Paths leading to a
// nested object are stored with the bare id. path_time is the history key.
//
// Persist issues its writes concurrently and is not atomic: a failure part
// way leaves the document, the index and the history out of step, and
// nothing rolls it back.
package dynamostore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/pathdb"
)

// API is the subset of *dynamodb.Client the backend uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// NewClient builds a client from the default AWS credential chain. A
// non-empty endpoint points it at DynamoDB Local or a similar emulator.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

const defaultConcurrency = 8

type Backend struct {
	api         API
	cfg         TableConfig
	logger      *zap.Logger
	concurrency int
	seq         atomic.Uint64
}

var _ pathdb.Backend = (*Backend)(nil)

func New(api API, cfg TableConfig, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{
		api:         api,
		cfg:         cfg,
		logger:      logger,
		concurrency: defaultConcurrency,
	}
	b.seq.Store(uint64(time.Now().UnixNano()))
	return b
}

// Init checks (and possibly creates) the tables; it matches the initializer
// signature of pathdb.Initialize.
func (b *Backend) Init(ctx context.Context) (pathdb.Backend, error) {
	if err := b.EnsureTables(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) Config() TableConfig {
	return b.cfg
}

type objectItem struct {
	ID  string         `dynamodbav:"_whoid"`
	Doc map[string]any `dynamodbav:"doc"`
}

type pathItem struct {
	Path    string `dynamodbav:"path"`
	ValueID string `dynamodbav:"val_whoid"`
	ID      string `dynamodbav:"_whoid"`
}

type historyItem struct {
	ID       string `dynamodbav:"_whoid"`
	PathTime string `dynamodbav:"path_time"`
	Path     string `dynamodbav:"path"`
	Date     int64  `dynamodbav:"date"`
	Seq      uint64 `dynamodbav:"seq"`
	Created  bool   `dynamodbav:"created"`
	Deleted  bool   `dynamodbav:"deleted"`
	Author   string `dynamodbav:"author"`
}

const (
	attrPrev = "prev"
	attrCur  = "cur"
)

// indexSortKey returns the val_whoid of document id holding v.
func indexSortKey(v pathdb.Value, id string) string {
	if _, ok := v.(pathdb.Map); ok {
		return id
	}
	return string(pathdb.AppendIndexKey(nil, v, id))
}

func idFromSortKey(sk string) string {
	if i := strings.LastIndexByte(sk, pathdb.KeySeparator); i >= 0 {
		return sk[i+1:]
	}
	return sk
}

func (b *Backend) ScanAll(ctx context.Context) ([]*pathdb.Document, error) {
	p := dynamodb.NewScanPaginator(b.api, &dynamodb.ScanInput{
		TableName: aws.String(b.cfg.table(objectsTable)),
	})
	var docs []*pathdb.Document
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", b.cfg.table(objectsTable), err)
		}
		for _, item := range page.Items {
			doc, err := decodeObject(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (b *Backend) QueryByPath(ctx context.Context, path string) ([]*pathdb.Document, error) {
	items, err := b.queryPaths(ctx, path, "")
	if err != nil {
		return nil, err
	}
	return b.loadDocs(ctx, items)
}

func (b *Backend) QueryByPathValue(ctx context.Context, path string, value pathdb.Value) ([]*pathdb.Document, error) {
	if _, ok := value.(pathdb.Map); ok {
		items, err := b.queryPaths(ctx, path, "")
		if err != nil {
			return nil, err
		}
		var markers []pathItem
		for _, item := range items {
			if strings.IndexByte(item.ValueID, pathdb.KeySeparator) < 0 {
				markers = append(markers, item)
			}
		}
		return b.loadDocs(ctx, markers)
	}

	items, err := b.queryPaths(ctx, path, string(pathdb.AppendIndexPrefix(nil, value)))
	if err != nil {
		return nil, err
	}
	return b.loadDocs(ctx, items)
}

func (b *Backend) queryPaths(ctx context.Context, path, prefix string) ([]pathItem, error) {
	cond := expression.Key(attrPath).Equal(expression.Value(path))
	if prefix != "" {
		cond = cond.And(expression.Key(attrValueID).BeginsWith(prefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("building path query: %w", err)
	}

	table := b.cfg.table(pathsTable)
	p := dynamodb.NewQueryPaginator(b.api, &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var items []pathItem
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s path %s: %w", table, path, err)
		}
		for _, raw := range page.Items {
			var item pathItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("decoding %s item: %w", table, err)
			}
			if item.ID == "" {
				item.ID = idFromSortKey(item.ValueID)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// loadDocs fetches the documents of index items concurrently, in item order.
func (b *Backend) loadDocs(ctx context.Context, items []pathItem) ([]*pathdb.Document, error) {
	if len(items) == 0 {
		return nil, nil
	}
	table := b.cfg.table(objectsTable)
	found := make([]*pathdb.Document, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, item := range items {
		g.Go(func() error {
			out, err := b.api.GetItem(gctx, &dynamodb.GetItemInput{
				TableName: aws.String(table),
				Key:       map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: item.ID}},
			})
			if err != nil {
				return fmt.Errorf("get %s %s: %w", table, item.ID, err)
			}
			if out.Item == nil {
				b.logger.Warn("dynamostore: index entry without document", zap.String("path", item.Path), zap.String("id", item.ID))
				return nil
			}
			doc, err := decodeObject(out.Item)
			if err != nil {
				return err
			}
			found[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := found[:0]
	for _, doc := range found {
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func decodeObject(raw map[string]types.AttributeValue) (*pathdb.Document, error) {
	var item objectItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	if item.Doc == nil {
		item.Doc = map[string]any{}
	}
	fields, err := pathdb.MapFromAny(item.Doc)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", item.ID, err)
	}
	return &pathdb.Document{ID: item.ID, Fields: fields}, nil
}

func (b *Backend) QueryHistory(ctx context.Context, id string, prefix string) ([]*pathdb.HistoryRecord, error) {
	var records []*pathdb.HistoryRecord
	for _, hp := range pathdb.HistoryPrefixes(prefix) {
		cond := expression.Key(attrID).Equal(expression.Value(id))
		if len(hp) > 0 {
			cond = cond.And(expression.Key(attrPathTime).BeginsWith(string(hp)))
		}
		expr, err := expression.NewBuilder().WithKeyCondition(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("building history query: %w", err)
		}

		table := b.cfg.table(historyTable)
		p := dynamodb.NewQueryPaginator(b.api, &dynamodb.QueryInput{
			TableName:                 aws.String(table),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("query %s %s: %w", table, id, err)
			}
			for _, raw := range page.Items {
				rec, err := decodeHistory(raw)
				if err != nil {
					return nil, err
				}
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

func encodeHistory(id string, rec *pathdb.HistoryRecord) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(historyItem{
		ID:       id,
		PathTime: string(pathdb.AppendHistoryKey(nil, rec.Path, rec.Date, rec.Seq)),
		Path:     rec.Path,
		Date:     rec.Date.UnixNano(),
		Seq:      rec.Seq,
		Created:  rec.Created,
		Deleted:  rec.Deleted,
		Author:   rec.Author,
	})
	if err != nil {
		return nil, err
	}
	if rec.HasPrev() {
		if item[attrPrev], err = attributevalue.Marshal(pathdb.ToAny(rec.Prev)); err != nil {
			return nil, err
		}
	}
	if rec.HasCur() {
		if item[attrCur], err = attributevalue.Marshal(pathdb.ToAny(rec.Cur)); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func decodeHistory(raw map[string]types.AttributeValue) (*pathdb.HistoryRecord, error) {
	var item historyItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("decoding history item: %w", err)
	}
	rec := &pathdb.HistoryRecord{
		Path: item.Path,
		Date: time.Unix(0, item.Date).UTC(),
		Seq:  item.Seq,
		Change: pathdb.Change{
			Created: item.Created,
			Deleted: item.Deleted,
			Author:  item.Author,
		},
	}
	var err error
	if rec.HasPrev() {
		if rec.Prev, err = decodeValue(raw[attrPrev]); err != nil {
			return nil, fmt.Errorf("history %s prev: %w", item.PathTime, err)
		}
	}
	if rec.HasCur() {
		if rec.Cur, err = decodeValue(raw[attrCur]); err != nil {
			return nil, fmt.Errorf("history %s cur: %w", item.PathTime, err)
		}
	}
	return rec, nil
}

func decodeValue(av types.AttributeValue) (pathdb.Value, error) {
	if av == nil {
		return pathdb.Null{}, nil
	}
	var v any
	if err := attributevalue.Unmarshal(av, &v); err != nil {
		return nil, err
	}
	return pathdb.FromAny(v)
}

// Persist implements pathdb.Backend. See the package doc on atomicity.
func (b *Backend) Persist(ctx context.Context, doc *pathdb.Document, diffs pathdb.Diffs, at time.Time) (*pathdb.Document, error) {
	if doc.ID == "" {
		panic("Persist: document without id")
	}
	objects, paths, history := b.cfg.table(objectsTable), b.cfg.table(pathsTable), b.cfg.table(historyTable)

	docItem, err := attributevalue.MarshalMap(objectItem{ID: doc.ID, Doc: pathdb.ToAny(doc.Fields).(map[string]any)})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", doc.ID, err)
	}
	writes := []func(ctx context.Context) error{
		b.putItem(objects, docItem),
	}

	for _, path := range diffs.Paths() {
		chg := diffs[path]

		var remove, insert string
		if chg.HasPrev() {
			remove = indexSortKey(chg.Prev, doc.ID)
		}
		if chg.HasCur() {
			insert = indexSortKey(chg.Cur, doc.ID)
		}
		if remove != insert {
			if remove != "" {
				writes = append(writes, b.deleteItem(paths, map[string]types.AttributeValue{
					attrPath:    &types.AttributeValueMemberS{Value: path},
					attrValueID: &types.AttributeValueMemberS{Value: remove},
				}))
			}
			if insert != "" {
				item, err := attributevalue.MarshalMap(pathItem{Path: path, ValueID: insert, ID: doc.ID})
				if err != nil {
					return nil, fmt.Errorf("encoding index %s: %w", path, err)
				}
				writes = append(writes, b.putItem(paths, item))
			}
		}

		rec := &pathdb.HistoryRecord{Path: path, Date: at, Seq: b.seq.Add(1), Change: *chg}
		histItem, err := encodeHistory(doc.ID, rec)
		if err != nil {
			return nil, fmt.Errorf("encoding history %s: %w", path, err)
		}
		writes = append(writes, b.putItem(history, histItem))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, w := range writes {
		g.Go(func() error { return w(gctx) })
	}
	if err := g.Wait(); err != nil {
		b.logger.Error("dynamostore: partial write", zap.String("id", doc.ID), zap.Int("writes", len(writes)), zap.Error(err))
		return nil, err
	}
	b.logger.Debug("dynamostore: PUT", zap.String("id", doc.ID), zap.Int("writes", len(writes)))
	return doc, nil
}

func (b *Backend) putItem(table string, item map[string]types.AttributeValue) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := b.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(table), Item: item})
		return wrapTableErr(table, err)
	}
}

func (b *Backend) deleteItem(table string, key map[string]types.AttributeValue) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := b.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(table), Key: key})
		return wrapTableErr(table, err)
	}
}

func wrapTableErr(table string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", table, err)
}

func (b *Backend) Close() error {
	return nil
}
