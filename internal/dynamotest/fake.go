// Package dynamotest provides an in-memory DynamoDB stand-in for package tests.
//
// The fake understands the expression subset emitted by this module:
// conditions joined with AND over attribute_exists, attribute_not_exists, = and <>,
// SET-only update expressions, and single equality key conditions on Query.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

type table struct {
	key   string
	items map[string]item
}

type failure struct {
	op        string
	table     string
	err       error
	remaining int
}

// Fake is a mutex-guarded in-memory implementation of aws.DynamoDBAPI.
type Fake struct {
	mu       sync.Mutex
	tables   map[string]*table
	failures []*failure
	latency  time.Duration

	// call counters, by operation name
	Calls map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		Calls:  map[string]int{},
	}
}

// AddTable registers a table whose partition key is keyAttr.
func (f *Fake) AddTable(name, keyAttr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{key: keyAttr, items: map[string]item{}}
}

// Seed stores a raw item, bypassing conditions.
func (f *Fake) Seed(tableName string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[tableName]
	t.items[keyString(it[t.key])] = copyItem(it)
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(tableName, id string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	it, ok := t.items[id]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Count returns the number of items in a table.
func (f *Fake) Count(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[tableName].items)
}

// FailNext makes the next `times` calls of op touching tableName return err.
// An empty tableName matches every table.
func (f *Fake) FailNext(op, tableName string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &failure{op: op, table: tableName, err: err, remaining: times})
}

// SetLatency delays every call by d before it touches the tables, so
// concurrent callers interleave the way they do against a remote store.
// Calls honour context cancellation during the delay.
func (f *Fake) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

func (f *Fake) pause(ctx context.Context) error {
	f.mu.Lock()
	d := f.latency
	f.mu.Unlock()
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	return ctx.Err()
}

func (f *Fake) injected(op string, tables ...string) error {
	for _, fl := range f.failures {
		if fl.op != op || fl.remaining == 0 {
			continue
		}
		match := fl.table == ""
		for _, t := range tables {
			if t == fl.table {
				match = true
			}
		}
		if match {
			fl.remaining--
			return fl.err
		}
	}
	return nil
}

func (f *Fake) table(name *string) (*table, error) {
	if name == nil {
		return nil, errors.New("missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: name}
	}
	return t, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	if err := f.pause(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["GetItem"]++
	if err := f.injected("GetItem", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[keyString(in.Key[t.key])]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	if err := f.pause(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["PutItem"]++
	if err := f.injected("PutItem", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pk := keyString(in.Item[t.key])
	if pk == "" {
		return nil, fmt.Errorf("item missing key attribute %q", t.key)
	}
	ok, err := evalCondition(in.ConditionExpression, t.items[pk], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.items[pk] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	if err := f.pause(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["UpdateItem"]++
	if err := f.injected("UpdateItem", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	pk := keyString(in.Key[t.key])
	current := t.items[pk]
	ok, err := evalCondition(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next, err := applyUpdate(current, in.Key, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[pk] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	if err := f.pause(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Query"]++
	if err := f.injected("Query", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if in.KeyConditionExpression == nil {
		return nil, errors.New("missing key condition")
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := ""
	if in.ExclusiveStartKey != nil {
		start = keyString(in.ExclusiveStartKey[t.key])
	}

	out := &dyn.QueryOutput{}
	for _, k := range keys {
		if start != "" && k <= start {
			continue
		}
		ok, err := evalCondition(in.KeyConditionExpression, t.items[k], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if in.Limit != nil && int32(len(out.Items)) == *in.Limit {
			last := out.Items[len(out.Items)-1]
			out.LastEvaluatedKey = item{t.key: last[t.key]}
			break
		}
		out.Items = append(out.Items, copyItem(t.items[k]))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	if err := f.pause(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["TransactWriteItems"]++

	var names []string
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			names = append(names, *ti.Put.TableName)
		case ti.Update != nil:
			names = append(names, *ti.Update.TableName)
		case ti.ConditionCheck != nil:
			names = append(names, *ti.ConditionCheck.TableName)
		}
	}
	if err := f.injected("TransactWriteItems", names...); err != nil {
		return nil, err
	}

	// first pass: every condition must hold
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		var (
			tbl   *string
			pk    string
			cond  *string
			attrN map[string]string
			attrV map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			tbl, cond, attrN, attrV = ti.Put.TableName, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Update != nil:
			tbl, cond, attrN, attrV = ti.Update.TableName, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			tbl, cond, attrN, attrV = ti.ConditionCheck.TableName, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, errors.New("unsupported transact item")
		}
		t, err := f.table(tbl)
		if err != nil {
			return nil, err
		}
		switch {
		case ti.Put != nil:
			pk = keyString(ti.Put.Item[t.key])
		case ti.Update != nil:
			pk = keyString(ti.Update.Key[t.key])
		default:
			pk = keyString(ti.ConditionCheck.Key[t.key])
		}
		ok, err := evalCondition(cond, t.items[pk], attrN, attrV)
		if err != nil {
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	// second pass: apply
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			t := f.tables[*ti.Put.TableName]
			t.items[keyString(ti.Put.Item[t.key])] = copyItem(ti.Put.Item)
		case ti.Update != nil:
			t := f.tables[*ti.Update.TableName]
			pk := keyString(ti.Update.Key[t.key])
			next, err := applyUpdate(t.items[pk], ti.Update.Key, ti.Update.UpdateExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			t.items[pk] = next
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func evalCondition(expr *string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		var ok bool
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolve(clause[len("attribute_not_exists("):len(clause)-1], names)
			_, exists := it[attr]
			ok = !exists
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolve(clause[len("attribute_exists("):len(clause)-1], names)
			_, ok = it[attr]
		case strings.Contains(clause, "<>"):
			lhs, rhs, _ := strings.Cut(clause, "<>")
			v, present := it[resolve(strings.TrimSpace(lhs), names)]
			ok = !present || !avEqual(v, values[strings.TrimSpace(rhs)])
		case strings.Contains(clause, "="):
			lhs, rhs, _ := strings.Cut(clause, "=")
			want, found := values[strings.TrimSpace(rhs)]
			if !found {
				return false, fmt.Errorf("unbound value in %q", clause)
			}
			v, present := it[resolve(strings.TrimSpace(lhs), names)]
			ok = present && avEqual(v, want)
		default:
			return false, fmt.Errorf("unsupported condition %q", clause)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func applyUpdate(current item, key map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	next := copyItem(current)
	if next == nil {
		next = item{}
	}
	for k, v := range key {
		next[k] = v
	}
	if expr == nil {
		return next, nil
	}
	body := strings.TrimSpace(*expr)
	if !strings.HasPrefix(body, "SET ") {
		return nil, fmt.Errorf("unsupported update expression %q", body)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(body, "SET "), ",") {
		lhs, rhs, found := strings.Cut(assign, "=")
		if !found {
			return nil, fmt.Errorf("bad assignment %q", assign)
		}
		v, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return nil, fmt.Errorf("unbound value in %q", assign)
		}
		next[resolve(strings.TrimSpace(lhs), names)] = v
	}
	return next, nil
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func avEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return reflect.DeepEqual(a, b)
}

func keyString(v types.AttributeValue) string {
	switch kv := v.(type) {
	case *types.AttributeValueMemberS:
		return kv.Value
	case *types.AttributeValueMemberN:
		return kv.Value
	}
	return ""
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }

// ConflictError returns the cancellation DynamoDB reports when a concurrent
// transaction touched the same item.
func ConflictError() error {
	code := "TransactionConflict"
	return &types.TransactionCanceledException{
		Message:             strPtr("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{{Code: &code}},
	}
}
