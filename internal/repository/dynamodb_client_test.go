package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is a small in-memory table that understands the handful of
// expressions the backends issue.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int

	getErr    error
	putErr    error
	updateErr error
	deleteErr error
	scanErr   error

	// putConflicts makes the next n conditional puts fail.
	putConflicts int

	lastGetInput    *dynamodb.GetItemInput
	lastPutInput    *dynamodb.PutItemInput
	lastUpdateInput *dynamodb.UpdateItemInput
	lastScanInput   *dynamodb.ScanInput
	puts            int
	scans           int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemID(key map[string]types.AttributeValue) string {
	pk, _ := strAttr(key, "PK")
	sk, _ := strAttr(key, "SK")
	return pk + "|" + sk
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	item, ok := f.items[itemID(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPutInput = in
	f.puts++
	if f.putErr != nil {
		return nil, f.putErr
	}
	id := itemID(in.Item)
	existing, exists := f.items[id]
	if cond := aws.ToString(in.ConditionExpression); cond != "" {
		if f.putConflicts > 0 {
			f.putConflicts--
			return nil, conditionFailed()
		}
		switch {
		case strings.HasPrefix(cond, "attribute_not_exists"):
			if exists {
				return nil, conditionFailed()
			}
		case strings.Contains(cond, ":v"):
			want, _ := int64Attr(in.ExpressionAttributeValues, ":v")
			got, _ := int64Attr(existing, "version")
			if !exists || want != got {
				return nil, conditionFailed()
			}
		}
	}
	f.items[id] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdateInput = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	item, ok := f.items[itemID(in.Key)]
	if !ok {
		return nil, conditionFailed()
	}
	fields := map[string]string{":status": "status", ":updated": "lastUpdated", ":code": "errorCode", ":message": "errorMessage"}
	for placeholder, attr := range fields {
		if v, ok := in.ExpressionAttributeValues[placeholder]; ok {
			item[attr] = v
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	delete(f.items, itemID(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastScanInput = in
	f.scans++
	if f.scanErr != nil {
		return nil, f.scanErr
	}

	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := itemID(in.ExclusiveStartKey)
		start = sort.SearchStrings(ids, after) + 1
	}
	end := len(ids)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	prefix, _ := strAttr(in.ExpressionAttributeValues, ":prefix")
	recipient, hasRecipient := in.ExpressionAttributeValues[":recipient"]
	out := &dynamodb.ScanOutput{}
	for _, id := range ids[start:end] {
		item := f.items[id]
		pk, _ := strAttr(item, "PK")
		if !strings.HasPrefix(pk, prefix) {
			continue
		}
		if hasRecipient {
			want := recipient.(*types.AttributeValueMemberS).Value
			if got, _ := strAttr(item, "recipient"); got != want {
				continue
			}
		}
		out.Items = append(out.Items, copyItem(item))
	}
	if end < len(ids) {
		last := f.items[ids[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	return out, nil
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

var errBoom = errors.New("boom")
