// Package dynamotest provides an in-memory stand-in for the DynamoDB calls the
// stores make. It understands the small expression grammar those stores emit:
// SET/ADD updates, if_not_exists, equality conditions joined by AND, and
// attribute_exists/attribute_not_exists.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a stored DynamoDB item.
type Item = map[string]types.AttributeValue

// Mock is safe for concurrent use; every call runs under one lock, which gives
// the same atomicity DynamoDB gives a single-item conditional write.
type Mock struct {
	mu     sync.Mutex
	tables map[string]map[string]Item
	keys   map[string]string // table -> partition key attribute

	// Fail, when set, is returned by every call.
	Fail error

	Puts, Gets, Updates, Transacts int
}

// New returns an empty Mock.
func New() *Mock {
	return &Mock{
		tables: map[string]map[string]Item{},
		keys:   map[string]string{},
	}
}

// KeyAttr declares attr as the partition key of table. Items written to a
// table without a declared key are rejected. A GetItem or UpdateItem whose Key
// names a single attribute declares it implicitly.
func (m *Mock) KeyAttr(table, attr string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[table] = attr
	return m
}

// Seed stores item under table without conditions.
func (m *Mock) Seed(table string, item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := m.itemKey(table, item)
	if err != nil {
		panic(err)
	}
	m.table(table)[pk] = copyItem(item)
}

// Item returns a copy of the stored item or nil.
func (m *Mock) Item(table, pk string) Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.table(table)[pk]
	if !ok {
		return nil
	}
	return copyItem(it)
}

func (m *Mock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	if m.Fail != nil {
		return nil, m.Fail
	}
	pk, err := m.itemKey(*params.TableName, params.Item)
	if err != nil {
		return nil, err
	}
	tbl := m.table(*params.TableName)
	current, exists := tbl[pk]
	if params.ConditionExpression != nil &&
		!evalCondition(*params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, current, exists) {
		return nil, &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
	}
	tbl[pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *Mock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if m.Fail != nil {
		return nil, m.Fail
	}
	pk, err := m.keyOf(*params.TableName, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *Mock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates++
	if m.Fail != nil {
		return nil, m.Fail
	}
	pk, err := m.keyOf(*params.TableName, params.Key)
	if err != nil {
		return nil, err
	}
	tbl := m.table(*params.TableName)
	current, exists := tbl[pk]

	if params.ConditionExpression != nil &&
		!evalCondition(*params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, current, exists) {
		ccf := &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
		if exists && params.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
			ccf.Item = copyItem(current)
		}
		return nil, ccf
	}

	next := copyItem(current)
	if next == nil {
		next = copyItem(params.Key)
	}
	changed, err := applyUpdate(*params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, next)
	if err != nil {
		return nil, err
	}
	tbl[pk] = next

	out := &dyn.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = copyItem(next)
	case types.ReturnValueUpdatedNew:
		out.Attributes = Item{}
		for _, name := range changed {
			out.Attributes[name] = next[name]
		}
	case types.ReturnValueAllOld:
		out.Attributes = copyItem(current)
	}
	return out, nil
}

func (m *Mock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transacts++
	if m.Fail != nil {
		return nil, m.Fail
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: str("None")}
		p := it.Put
		if p == nil {
			return nil, errors.New("dynamotest: only Put is supported in transactions")
		}
		pk, err := m.itemKey(*p.TableName, p.Item)
		if err != nil {
			return nil, err
		}
		current, exists := m.table(*p.TableName)[pk]
		if p.ConditionExpression != nil &&
			!evalCondition(*p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues, current, exists) {
			reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             str("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, it := range params.TransactItems {
		pk, _ := m.itemKey(*it.Put.TableName, it.Put.Item)
		m.table(*it.Put.TableName)[pk] = copyItem(it.Put.Item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *Mock) table(name string) map[string]Item {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]Item{}
		m.tables[name] = t
	}
	return t
}

// itemKey returns the partition key value of a full item in table.
func (m *Mock) itemKey(table string, item Item) (string, error) {
	attr, ok := m.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: no key schema for table %q", table)
	}
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: item in %q is missing key %s", table, attr)
	}
	return v.Value, nil
}

// keyOf returns the partition key value of a Key map.
func (m *Mock) keyOf(table string, key Item) (string, error) {
	if _, ok := m.keys[table]; !ok {
		if len(key) != 1 {
			return "", fmt.Errorf("dynamotest: no key schema for table %q", table)
		}
		for attr := range key {
			m.keys[table] = attr
		}
	}
	if len(key) != 1 {
		return "", fmt.Errorf("dynamotest: key for %q must name only %s", table, m.keys[table])
	}
	return m.itemKey(table, key)
}

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item Item, exists bool) bool {
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_exists("):
			if !exists {
				return false
			}
		case strings.HasPrefix(clause, "attribute_not_exists("):
			if exists {
				return false
			}
		default:
			lhs, rhs, ok := strings.Cut(clause, " = ")
			if !ok || !exists {
				return false
			}
			if !equalAV(item[resolve(lhs, names)], values[strings.TrimSpace(rhs)]) {
				return false
			}
		}
	}
	return true
}

func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item Item) ([]string, error) {
	expr = strings.TrimSpace(expr)
	var changed []string

	if rest, ok := strings.CutPrefix(expr, "ADD "); ok {
		attr, ref, _ := strings.Cut(strings.TrimSpace(rest), " ")
		attr = resolve(attr, names)
		sum := number(item[attr]) + number(values[strings.TrimSpace(ref)])
		item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(sum, 10)}
		return []string{attr}, nil
	}

	rest, ok := strings.CutPrefix(expr, "SET ")
	if !ok {
		return nil, fmt.Errorf("dynamotest: unsupported update %q", expr)
	}
	for _, assign := range splitTopLevel(rest) {
		lhs, rhs, ok := strings.Cut(assign, " = ")
		if !ok {
			return nil, fmt.Errorf("dynamotest: bad assignment %q", assign)
		}
		attr := resolve(lhs, names)
		rhs = strings.TrimSpace(rhs)
		if inner, ok := strings.CutPrefix(rhs, "if_not_exists("); ok {
			// if_not_exists(attr, :zero) + :inc
			args, tail, _ := strings.Cut(inner, ")")
			_, def, _ := strings.Cut(args, ",")
			base := item[attr]
			if base == nil {
				base = values[strings.TrimSpace(def)]
			}
			n := number(base)
			if _, inc, ok := strings.Cut(tail, "+"); ok {
				n += number(values[strings.TrimSpace(inc)])
			}
			item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
		} else {
			item[attr] = values[rhs]
		}
		changed = append(changed, attr)
	}
	return changed, nil
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func resolve(name string, names map[string]string) string {
	name = strings.TrimSpace(name)
	if v, ok := names[name]; ok {
		return v
	}
	return name
}

func equalAV(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	default:
		return false
	}
}

func number(v types.AttributeValue) int64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	i, _ := strconv.ParseInt(n.Value, 10, 64)
	return i
}

func copyItem(in Item) Item {
	if in == nil {
		return nil
	}
	out := make(Item, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func str(s string) *string { return &s }
