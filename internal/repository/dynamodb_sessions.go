package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/session"
)

const (
	skSession         = "TURNS#"
	defaultSessionTTL = 24 * time.Hour
	maxAppendAttempts = 3
)

// DynamoSessions stores each session as one item holding its turns as JSON.
// Writes are guarded by a version attribute so concurrent appends from
// different processes do not overwrite each other.
type DynamoSessions struct {
	api       dynamodbAPI
	tableName string
	window    int
	ttl       time.Duration
	now       func() time.Time
}

var _ session.Store = (*DynamoSessions)(nil)

// NewDynamoSessions creates a session store on tableName. A non-positive ttl
// uses 24h.
func NewDynamoSessions(api dynamodbAPI, tableName string, window int, ttl time.Duration) (*DynamoSessions, error) {
	if err := checkTable(api, tableName); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = session.DefaultWindow
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &DynamoSessions{api: api, tableName: tableName, window: window, ttl: ttl, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(key string) string {
	return "SESSION#" + key
}

func (s *DynamoSessions) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strValue(sessionPK(key)),
		"SK": strValue(skSession),
	}
}

func (s *DynamoSessions) Get(ctx context.Context, key string) ([]domain.Turn, error) {
	turns, _, err := s.load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("repository: session Get: %w", err)
	}
	return turns, nil
}

func (s *DynamoSessions) Append(ctx context.Context, key string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	for attempt := 1; ; attempt++ {
		current, version, err := s.load(ctx, key)
		if err != nil {
			return fmt.Errorf("repository: session Append: %w", err)
		}
		err = s.put(ctx, key, session.Truncate(append(current, turns...), s.window), version)
		if err == nil {
			return nil
		}
		if !isConditionFailed(err) || attempt == maxAppendAttempts {
			return fmt.Errorf("repository: session Append: %w", err)
		}
	}
}

func (s *DynamoSessions) Clear(ctx context.Context, key string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("repository: session Clear: %w", err)
	}
	return nil
}

// load returns the live turns for key and the item version, zero when the
// item does not exist.
func (s *DynamoSessions) load(ctx context.Context, key string) ([]domain.Turn, int64, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return []domain.Turn{}, 0, nil
	}

	version, err := int64Attr(out.Item, "version")
	if err != nil {
		return nil, 0, err
	}
	if expired(out.Item, s.now()) {
		return []domain.Turn{}, version, nil
	}
	raw, err := strAttr(out.Item, "turns")
	if err != nil {
		return nil, 0, err
	}
	turns := []domain.Turn{}
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, 0, fmt.Errorf("decode turns: %w", err)
	}
	return turns, version, nil
}

func (s *DynamoSessions) put(ctx context.Context, key string, turns []domain.Turn, version int64) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}
	now := s.now().UTC()
	item := s.itemKey(key)
	item["sessionKey"] = strValue(key)
	item["turns"] = strValue(string(raw))
	item["version"] = numValue(version + 1)
	item["updatedAt"] = timeValue(now)
	item["ttl"] = numValue(ttlValue(now, s.ttl))

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("#version = :v")
		in.ExpressionAttributeNames = map[string]string{"#version": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":v": numValue(version)}
	}
	if _, err := s.api.PutItem(ctx, in); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}
