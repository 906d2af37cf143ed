package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"shop-assistant/internal/delivery"
	"shop-assistant/internal/domain"
)

const (
	pkPrefixDelivery   = "MSG#"
	skDelivery         = "DELIVERY#"
	defaultDeliveryTTL = 72 * time.Hour
)

// DynamoDeliveries stores one item per outbound message. Expiry is left to
// the table's TTL setting on the ttl attribute.
type DynamoDeliveries struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

var _ delivery.Tracker = (*DynamoDeliveries)(nil)

func NewDynamoDeliveries(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoDeliveries, error) {
	if err := checkTable(api, tableName); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultDeliveryTTL
	}
	return &DynamoDeliveries{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func deliveryKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strValue(pkPrefixDelivery + id),
		"SK": strValue(skDelivery),
	}
}

func (d *DynamoDeliveries) Record(ctx context.Context, id, recipient string, chunk, totalChunks int) error {
	now := d.now().UTC()
	item := deliveryKey(id)
	item["messageSid"] = strValue(id)
	item["recipient"] = strValue(recipient)
	item["status"] = strValue(string(domain.StatusSent))
	item["createdAt"] = timeValue(now)
	item["lastUpdated"] = timeValue(now)
	item["chunk"] = numValue(int64(chunk))
	item["totalChunks"] = numValue(int64(totalChunks))
	item["ttl"] = numValue(ttlValue(now, d.ttl))

	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: delivery Record: %w", err)
	}
	return nil
}

// UpdateStatus overwrites the status of an existing record. A missing record
// fails the condition and is treated as a no-op.
func (d *DynamoDeliveries) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, errorCode, errorMessage string) error {
	update := "SET #status = :status, lastUpdated = :updated"
	values := map[string]types.AttributeValue{
		":status":  strValue(string(status)),
		":updated": timeValue(d.now()),
	}
	if errorCode != "" {
		update += ", errorCode = :code, errorMessage = :message"
		values[":code"] = strValue(errorCode)
		values[":message"] = strValue(errorMessage)
	}

	_, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       deliveryKey(id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil
		}
		return fmt.Errorf("repository: delivery UpdateStatus: %w", err)
	}
	return nil
}

func (d *DynamoDeliveries) Get(ctx context.Context, id string) (domain.DeliveryRecord, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            deliveryKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.DeliveryRecord{}, false, fmt.Errorf("repository: delivery Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 || expired(out.Item, d.now()) {
		return domain.DeliveryRecord{}, false, nil
	}
	rec, err := itemToDelivery(out.Item)
	if err != nil {
		return domain.DeliveryRecord{}, false, fmt.Errorf("repository: delivery Get: %w", err)
	}
	return rec, true, nil
}

// Stats scans every delivery item, optionally narrowed to one recipient.
func (d *DynamoDeliveries) Stats(ctx context.Context, recipient string) (domain.DeliveryStats, error) {
	filter := "begins_with(PK, :prefix)"
	values := map[string]types.AttributeValue{":prefix": strValue(pkPrefixDelivery)}
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		filter += " AND recipient = :recipient"
		values[":recipient"] = strValue(recipient)
	}

	var stats domain.DeliveryStats
	now := d.now()
	p := dynamodb.NewScanPaginator(d.api, &dynamodb.ScanInput{
		TableName:                 aws.String(d.tableName),
		FilterExpression:          aws.String(filter),
		ProjectionExpression:      aws.String("#status, #ttl"),
		ExpressionAttributeNames:  map[string]string{"#status": "status", "#ttl": "ttl"},
		ExpressionAttributeValues: values,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return domain.DeliveryStats{}, fmt.Errorf("repository: delivery Stats: %w", err)
		}
		for _, item := range page.Items {
			if expired(item, now) {
				continue
			}
			status, _ := strAttr(item, "status")
			stats.Add(domain.DeliveryStatus(status))
		}
	}
	return stats, nil
}

func itemToDelivery(item map[string]types.AttributeValue) (domain.DeliveryRecord, error) {
	id, err := strAttr(item, "messageSid")
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	recipient, err := strAttr(item, "recipient")
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	updated, err := timeAttr(item, "lastUpdated")
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	// optional
	chunk, _ := intAttr(item, "chunk")
	total, _ := intAttr(item, "totalChunks")
	errorCode, _ := strAttr(item, "errorCode")
	errorMessage, _ := strAttr(item, "errorMessage")

	return domain.DeliveryRecord{
		ID:           id,
		Recipient:    recipient,
		Status:       domain.DeliveryStatus(status),
		CreatedAt:    created,
		UpdatedAt:    updated,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Chunk:        chunk,
		TotalChunks:  total,
	}, nil
}
