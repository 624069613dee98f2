package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

type docRef struct {
	table string
	key   string
	id    string
}

type observed struct {
	item       map[string]types.AttributeValue
	version    int64
	hasVersion bool
}

// guard returns the condition pinning a document to its observed version.
// Documents written before versioning carry no version attribute.
func (o *observed) guard() (string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{"#ver": VersionAttr}
	if !o.hasVersion {
		return "attribute_not_exists(#ver)", names, map[string]types.AttributeValue{}
	}
	return "#ver = :ver", names, map[string]types.AttributeValue{":ver": numberAV(o.version)}
}

// Txn buffers reads and writes for one attempt of RunTransaction.
// A Txn is not safe for concurrent use.
type Txn struct {
	store  *Store
	reads  map[docRef]*observed
	writes map[docRef]types.TransactWriteItem
	order  []docRef
}

func newTxn(s *Store) *Txn {
	return &Txn{
		store:  s,
		reads:  map[docRef]*observed{},
		writes: map[docRef]types.TransactWriteItem{},
	}
}

// Get reads a document consistently and records its version. Reading the same
// document twice returns the first observation.
func (t *Txn) Get(ctx context.Context, c Collection, id string, out any) error {
	ref := docRef{table: c.Table, key: c.Key, id: id}
	obs, ok := t.reads[ref]
	if !ok {
		item, err := t.store.getItem(ctx, c, id)
		if err != nil {
			return err
		}
		obs = &observed{item: item}
		if item != nil {
			v, present, err := versionOf(item)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", c.Table, id, err)
			}
			obs.version, obs.hasVersion = v, present
		}
		t.reads[ref] = obs
	}
	if obs.item == nil {
		return fmt.Errorf("%s/%s: %w", c.Table, id, ErrNotFound)
	}
	if err := attributevalue.UnmarshalMap(obs.item, out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", c.Table, id, err)
	}
	return nil
}

// Set replaces a document. A document observed in this transaction must still be at
// the observed version on commit; an unobserved or absent document must not exist.
func (t *Txn) Set(c Collection, id string, doc any) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", c.Table, id, err)
	}
	ref := docRef{table: c.Table, key: c.Key, id: id}
	item[c.Key] = &types.AttributeValueMemberS{Value: id}

	put := &types.Put{TableName: strPtr(c.Table), Item: item}
	if obs, ok := t.reads[ref]; ok && obs.item != nil {
		expr, names, values := obs.guard()
		item[VersionAttr] = numberAV(obs.version + 1)
		put.ConditionExpression = strPtr(expr)
		put.ExpressionAttributeNames = names
		if len(values) > 0 {
			put.ExpressionAttributeValues = values
		}
	} else {
		item[VersionAttr] = numberAV(1)
		put.ConditionExpression = strPtr("attribute_not_exists(#k)")
		put.ExpressionAttributeNames = map[string]string{"#k": c.Key}
	}
	t.stage(ref, types.TransactWriteItem{Put: put})
	return nil
}

// Update sets the given top-level fields on a document previously read in this transaction.
func (t *Txn) Update(c Collection, id string, fields map[string]any) error {
	ref := docRef{table: c.Table, key: c.Key, id: id}
	obs, ok := t.reads[ref]
	if !ok {
		return fmt.Errorf("update %s/%s: document was not read in this transaction", c.Table, id)
	}
	if obs.item == nil {
		return fmt.Errorf("%s/%s: %w", c.Table, id, ErrNotFound)
	}

	cond, names, values := obs.guard()
	values[":next"] = numberAV(obs.version + 1)
	expr := "SET #ver = :next"

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		av, err := attributevalue.Marshal(fields[k])
		if err != nil {
			return fmt.Errorf("marshal field %s: %w", k, err)
		}
		n, v := "#f"+strconv.Itoa(i), ":f"+strconv.Itoa(i)
		names[n] = k
		values[v] = av
		expr += ", " + n + " = " + v
	}

	t.stage(ref, types.TransactWriteItem{Update: &types.Update{
		TableName:                 strPtr(c.Table),
		Key:                       keyOf(c, id),
		UpdateExpression:          strPtr(expr),
		ConditionExpression:       strPtr(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}})
	return nil
}

func (t *Txn) stage(ref docRef, item types.TransactWriteItem) {
	if _, ok := t.writes[ref]; !ok {
		t.order = append(t.order, ref)
	}
	t.writes[ref] = item
}

func (t *Txn) commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(t.reads)+len(t.writes))
	for _, ref := range t.order {
		items = append(items, t.writes[ref])
	}
	// documents read but not written still guard the commit
	for ref, obs := range t.reads {
		if _, written := t.writes[ref]; written {
			continue
		}
		check := &types.ConditionCheck{
			TableName: strPtr(ref.table),
			Key:       keyOf(Collection{Table: ref.table, Key: ref.key}, ref.id),
		}
		if obs.item != nil {
			expr, names, values := obs.guard()
			check.ConditionExpression = strPtr(expr)
			check.ExpressionAttributeNames = names
			if len(values) > 0 {
				check.ExpressionAttributeValues = values
			}
		} else {
			check.ConditionExpression = strPtr("attribute_not_exists(#k)")
			check.ExpressionAttributeNames = map[string]string{"#k": ref.key}
		}
		items = append(items, types.TransactWriteItem{ConditionCheck: check})
	}

	_, err := t.store.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return fmt.Errorf("transact write: %w", err)
}

func isConflict(err error) bool {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if r.Code == nil {
				continue
			}
			switch *r.Code {
			case "ConditionalCheckFailed", "TransactionConflict", "ThrottlingError", "ProvisionedThroughputExceeded":
				return true
			}
		}
		return false
	}
	var tc *types.TransactionConflictException
	if errors.As(err, &tc) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TransactionInProgressException", "ProvisionedThroughputExceededException", "ThrottlingException":
			return true
		}
	}
	return false
}

func versionOf(item map[string]types.AttributeValue) (int64, bool, error) {
	av, ok := item[VersionAttr]
	if !ok {
		return 0, false, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, errors.New("version attribute is not a number")
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	return v, true, err
}

func numberAV(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
