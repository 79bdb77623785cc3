// Package dynamotest provides an in-memory stand-in for the DynamoDB calls
// the snapshot archive makes. It understands only the key condition shapes
// the archive issues.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake is an in-memory table keyed by the string attributes "pk" and "sk".
type Fake struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue

	// PageSize limits items per Query page when positive, so paginators
	// see more than one page.
	PageSize int

	// FailPut, when set, is returned from the PutItem call whose 1-based
	// index equals FailPutAt.
	FailPut   error
	FailPutAt int
	puts      int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{items: make(map[string]map[string]map[string]types.AttributeValue)}
}

// Len returns the number of stored items.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.items {
		n += len(p)
	}
	return n
}

// Item returns the stored item at pk and sk, or nil.
func (f *Fake) Item(pk, sk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[pk][sk]
}

// Delete removes the item at pk and sk.
func (f *Fake) Delete(pk, sk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items[pk], sk)
}

// PutItem stores params.Item. The only supported condition is
// attribute_not_exists(pk).
func (f *Fake) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.puts++
	if f.FailPut != nil && f.puts == f.FailPutAt {
		return nil, f.FailPut
	}

	pk, err := stringAttr(params.Item, "pk")
	if err != nil {
		return nil, err
	}
	sk, err := stringAttr(params.Item, "sk")
	if err != nil {
		return nil, err
	}
	if _, exists := f.items[pk][sk]; exists && aws.ToString(params.ConditionExpression) == "attribute_not_exists(pk)" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	if f.items[pk] == nil {
		f.items[pk] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[pk][sk] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

// Query returns the items under ":pk", narrowed by ":sk" (equality) or
// ":prefix" (begins_with) when present.
func (f *Fake) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values := params.ExpressionAttributeValues
	pk, err := stringAttr(values, ":pk")
	if err != nil {
		return nil, err
	}
	exact, _ := stringAttr(values, ":sk")
	prefix, _ := stringAttr(values, ":prefix")

	var sks []string
	for sk := range f.items[pk] {
		if exact != "" && sk != exact {
			continue
		}
		if !strings.HasPrefix(sk, prefix) {
			continue
		}
		sks = append(sks, sk)
	}
	sort.Strings(sks)
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(sks)-1; i < j; i, j = i+1, j-1 {
			sks[i], sks[j] = sks[j], sks[i]
		}
	}

	if start, err := stringAttr(params.ExclusiveStartKey, "sk"); err == nil {
		for i, sk := range sks {
			if sk == start {
				sks = sks[i+1:]
				break
			}
		}
	}

	limit := len(sks)
	if params.Limit != nil && int(*params.Limit) < limit {
		limit = int(*params.Limit)
	}
	if f.PageSize > 0 && f.PageSize < limit {
		limit = f.PageSize
	}

	out := &dynamodb.QueryOutput{}
	for _, sk := range sks[:limit] {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	out.Count = int32(len(out.Items))
	if limit < len(sks) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sks[limit-1]},
		}
	}
	return out, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: missing string attribute %q", name)
	}
	return v.Value, nil
}
