// Package dynamo stores the campaign event ledger in a DynamoDB table keyed
// by PK = CAMPAIGN#<id> and SK = <timestamp>#<event id>.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

// ErrDuplicateEvent is returned when an event id was already appended.
var ErrDuplicateEvent = errors.New("event already recorded")

// sortKeyLayout is fixed width so SK order equals time order.
const sortKeyLayout = "2006-01-02T15:04:05.000000000Z"

// API is the subset of *dynamodb.Client the ledger uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type eventItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	domain.CampaignEvent
}

// Ledger implements ledger.Store on DynamoDB.
type Ledger struct {
	client    API
	tableName string
}

// NewLedger creates a DynamoDB-backed ledger store.
func NewLedger(client API, tableName string) *Ledger {
	return &Ledger{client: client, tableName: tableName}
}

var _ ledger.Store = (*Ledger)(nil)

func partitionKey(campaignID string) string { return "CAMPAIGN#" + campaignID }

func sortKey(e *domain.CampaignEvent) string {
	return e.EventTimestamp.UTC().Format(sortKeyLayout) + "#" + e.ID
}

// Append writes e with a condition that the key does not exist yet, so a
// row can never be overwritten.
func (l *Ledger) Append(ctx context.Context, e *domain.CampaignEvent) error {
	av, err := attributevalue.MarshalMap(eventItem{
		PK:            partitionKey(e.CampaignID),
		SK:            sortKey(e),
		CampaignEvent: *e,
	})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, e.ID)
	}
	if err != nil {
		return fmt.Errorf("putting event to DynamoDB: %w", err)
	}
	return nil
}

// Query reads one campaign's partition when f names a campaign and scans
// the table otherwise. Conditions DynamoDB cannot express exactly are
// re-applied with f.Matches.
func (l *Ledger) Query(ctx context.Context, f ledger.Filter) ([]domain.CampaignEvent, error) {
	values := map[string]types.AttributeValue{}
	var filters []string
	if len(f.EventTypes) > 0 {
		names := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			k := fmt.Sprintf(":t%d", i)
			names[i] = k
			values[k] = &types.AttributeValueMemberS{Value: string(t)}
		}
		filters = append(filters, "event_type IN ("+strings.Join(names, ", ")+")")
	}

	var (
		items []map[string]types.AttributeValue
		err   error
	)
	if f.CampaignID != "" {
		items, err = l.queryPartition(ctx, f, values, filters)
	} else {
		items, err = l.scan(ctx, values, filters)
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.CampaignEvent, 0, len(items))
	for _, item := range items {
		var it eventItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling event: %w", err)
		}
		if !f.Matches(&it.CampaignEvent) {
			continue
		}
		out = append(out, it.CampaignEvent)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTimestamp.Before(out[j].EventTimestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (l *Ledger) queryPartition(ctx context.Context, f ledger.Filter, values map[string]types.AttributeValue, filters []string) ([]map[string]types.AttributeValue, error) {
	keyCond := "PK = :pk"
	values[":pk"] = &types.AttributeValueMemberS{Value: partitionKey(f.CampaignID)}
	if f.Since != nil {
		keyCond += " AND SK >= :since"
		values[":since"] = &types.AttributeValueMemberS{Value: f.Since.UTC().Format(sortKeyLayout)}
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(l.tableName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
	}
	if len(filters) > 0 {
		in.FilterExpression = aws.String(strings.Join(filters, " AND "))
	}

	var items []map[string]types.AttributeValue
	for {
		res, err := l.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}
		items = append(items, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = res.LastEvaluatedKey
	}
}

func (l *Ledger) scan(ctx context.Context, values map[string]types.AttributeValue, filters []string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(l.tableName)}
	if len(filters) > 0 {
		in.FilterExpression = aws.String(strings.Join(filters, " AND "))
		in.ExpressionAttributeValues = values
	}

	var items []map[string]types.AttributeValue
	for {
		res, err := l.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scanning DynamoDB: %w", err)
		}
		items = append(items, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = res.LastEvaluatedKey
	}
}
