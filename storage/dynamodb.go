package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// Index names on the DynamoDB tables
const (
	RuleIndex       = "rule-index"
	ComplianceIndex = "compliance-index"
	StatusIndex     = "status-index"
)

const (
	claimPrefix     = "CLAIM#"
	exceptionPrefix = "EXCEPTION#"
	rulePrefix      = "RULE#"

	// exceptionRetention keeps decided exceptions readable after expiry
	exceptionRetention = 90 * 24 * time.Hour
)

// DynamoDBAPI defines the DynamoDB operations used by the stores.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoLedger stores the ledger in a DynamoDB table keyed by pk/sk with
// sparse GSIs on rule_name and compliance_type (range key occurred_at).
type DynamoLedger struct {
	client DynamoDBAPI
	table  string
	now    func() time.Time
}

// NewDynamoLedger creates a ledger over an existing table
func NewDynamoLedger(client DynamoDBAPI, table string) *DynamoLedger {
	return &DynamoLedger{client: client, table: table, now: time.Now}
}

// Put writes rec only if no item holds its key
func (d *DynamoLedger) Put(ctx context.Context, rec types.LedgerRecord) error {
	item, err := marshalLedgerRecord(rec)
	if err != nil {
		return err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if isConditionFailed(err) {
		return ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("put ledger record %s: %w", rec.Key(), err)
	}
	return nil
}

// Get reads the record under key with strong consistency
func (d *DynamoLedger) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            ledgerKeyAttrs(key.PK, key.SK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get ledger record %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	rec, err := unmarshalLedgerRecord(out.Item)
	if err != nil {
		return nil, err
	}
	// TTL deletion is lazy; expired items can linger for days
	if rec.Expired(d.now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// QueryByResource queries the resource partition, oldest first
func (d *DynamoLedger) QueryByResource(ctx context.Context, accountID, resourceID string, window types.TimeRange) ([]types.LedgerRecord, error) {
	return d.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":pk": &dbtypes.AttributeValueMemberS{Value: types.ResourcePartition(accountID, resourceID)},
		},
		ScanIndexForward: aws.Bool(true),
	}, window)
}

// QueryByRule queries the rule GSI, oldest first
func (d *DynamoLedger) QueryByRule(ctx context.Context, ruleName string, window types.TimeRange) ([]types.LedgerRecord, error) {
	return d.queryIndex(ctx, RuleIndex, "rule_name", ruleName, window)
}

// QueryByCompliance queries the compliance-type GSI, oldest first
func (d *DynamoLedger) QueryByCompliance(ctx context.Context, complianceType types.ComplianceType, window types.TimeRange) ([]types.LedgerRecord, error) {
	return d.queryIndex(ctx, ComplianceIndex, "compliance_type", string(complianceType), window)
}

func (d *DynamoLedger) queryIndex(ctx context.Context, index, attr, value string, window types.TimeRange) ([]types.LedgerRecord, error) {
	cond := "#h = :h"
	values := map[string]dbtypes.AttributeValue{
		":h": &dbtypes.AttributeValueMemberS{Value: value},
	}
	switch {
	case !window.From.IsZero() && !window.To.IsZero():
		cond += " AND occurred_at BETWEEN :from AND :to"
		values[":from"] = &dbtypes.AttributeValueMemberS{Value: types.FormatTimestamp(window.From)}
		values[":to"] = &dbtypes.AttributeValueMemberS{Value: types.FormatTimestamp(window.To)}
	case !window.From.IsZero():
		cond += " AND occurred_at >= :from"
		values[":from"] = &dbtypes.AttributeValueMemberS{Value: types.FormatTimestamp(window.From)}
	case !window.To.IsZero():
		cond += " AND occurred_at <= :to"
		values[":to"] = &dbtypes.AttributeValueMemberS{Value: types.FormatTimestamp(window.To)}
	}

	return d.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  map[string]string{"#h": attr},
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	}, window)
}

func (d *DynamoLedger) query(ctx context.Context, input *dynamodb.QueryInput, window types.TimeRange) ([]types.LedgerRecord, error) {
	var out []types.LedgerRecord
	now := d.now()
	for {
		page, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query ledger: %w", err)
		}
		for _, item := range page.Items {
			rec, err := unmarshalLedgerRecord(item)
			if err != nil {
				return nil, err
			}
			if !rec.Expired(now) && window.Contains(rec.OccurredAt) {
				out = append(out, *rec)
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sortChronologically(out)
	return out, nil
}

// Claim writes a lease item in the same transaction as a check that the
// ledger record is still absent, so a finished key can never be re-claimed.
func (d *DynamoLedger) Claim(ctx context.Context, key types.LedgerKey, lease time.Duration) (bool, error) {
	now := d.now()
	until := now.Add(lease)

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []dbtypes.TransactWriteItem{
			{
				ConditionCheck: &dbtypes.ConditionCheck{
					TableName:           aws.String(d.table),
					Key:                 ledgerKeyAttrs(key.PK, key.SK),
					ConditionExpression: aws.String("attribute_not_exists(pk)"),
				},
			},
			{
				Put: &dbtypes.Put{
					TableName: aws.String(d.table),
					Item: map[string]dbtypes.AttributeValue{
						"pk":          &dbtypes.AttributeValueMemberS{Value: claimPrefix + key.PK},
						"sk":          &dbtypes.AttributeValueMemberS{Value: key.SK},
						"lease_until": numberAttr(until.UnixNano()),
						"ttl":         numberAttr(until.Add(24 * time.Hour).Unix()),
					},
					ConditionExpression: aws.String("attribute_not_exists(pk) OR lease_until < :now"),
					ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
						":now": numberAttr(now.UnixNano()),
					},
				},
			},
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return true, nil
}

// Release deletes the lease item for key
func (d *DynamoLedger) Release(ctx context.Context, key types.LedgerKey) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       ledgerKeyAttrs(claimPrefix+key.PK, key.SK),
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the client is shared
func (d *DynamoLedger) Close() error {
	return nil
}

// DynamoExceptions stores exceptions keyed EXCEPTION#acct#res / RULE#rule
// with a status GSI (range key created_at).
type DynamoExceptions struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoExceptions creates an exception store over an existing table
func NewDynamoExceptions(client DynamoDBAPI, table string) *DynamoExceptions {
	return &DynamoExceptions{client: client, table: table}
}

// GetException reads the exception under key
func (d *DynamoExceptions) GetException(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            exceptionKeyAttrs(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get exception %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return unmarshalException(out.Item)
}

// ListExceptions queries the status index, or every status when status is empty
func (d *DynamoExceptions) ListExceptions(ctx context.Context, status types.ExceptionStatus) ([]types.ExceptionRecord, error) {
	statuses := []types.ExceptionStatus{status}
	if status == "" {
		statuses = []types.ExceptionStatus{types.ExceptionPending, types.ExceptionApproved, types.ExceptionRejected, types.ExceptionExpired}
	}

	var out []types.ExceptionRecord
	for _, st := range statuses {
		input := &dynamodb.QueryInput{
			TableName:                aws.String(d.table),
			IndexName:                aws.String(StatusIndex),
			KeyConditionExpression:   aws.String("#status = :status"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
				":status": &dbtypes.AttributeValueMemberS{Value: string(st)},
			},
		}
		for {
			page, err := d.client.Query(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("list exceptions %s: %w", st, err)
			}
			for _, item := range page.Items {
				rec, err := unmarshalException(item)
				if err != nil {
					return nil, err
				}
				out = append(out, *rec)
			}
			if len(page.LastEvaluatedKey) == 0 {
				break
			}
			input.ExclusiveStartKey = page.LastEvaluatedKey
		}
	}
	sortExceptions(out)
	return out, nil
}

// PutException writes rec unconditionally
func (d *DynamoExceptions) PutException(ctx context.Context, rec types.ExceptionRecord) error {
	item, err := marshalException(rec)
	if err != nil {
		return err
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put exception %s: %w", rec.Key(), err)
	}
	return nil
}

// CreateException writes rec unless an item already holds its key
func (d *DynamoExceptions) CreateException(ctx context.Context, rec types.ExceptionRecord) error {
	item, err := marshalException(rec)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if isConditionFailed(err) {
		return ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("create exception %s: %w", rec.Key(), err)
	}
	return nil
}

// UpdateException replaces rec while the stored status equals expected
func (d *DynamoExceptions) UpdateException(ctx context.Context, rec types.ExceptionRecord, expected types.ExceptionStatus) error {
	item, err := marshalException(rec)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(pk) AND #status = :expected"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":expected": &dbtypes.AttributeValueMemberS{Value: string(expected)},
		},
	})
	if isConditionFailed(err) {
		if _, getErr := d.GetException(ctx, rec.Key()); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update exception %s: %w", rec.Key(), err)
	}
	return nil
}

// DeleteException removes the exception under key
func (d *DynamoExceptions) DeleteException(ctx context.Context, key types.ExceptionKey) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.table),
		Key:                 exceptionKeyAttrs(key),
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if isConditionFailed(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete exception %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the client is shared
func (d *DynamoExceptions) Close() error {
	return nil
}

// isConditionFailed recognizes both single-item and transactional condition failures
func isConditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *dbtypes.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *dbtypes.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// Attribute marshalling

func ledgerKeyAttrs(pk, sk string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"pk": &dbtypes.AttributeValueMemberS{Value: pk},
		"sk": &dbtypes.AttributeValueMemberS{Value: sk},
	}
}

func exceptionKeyAttrs(key types.ExceptionKey) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"pk": &dbtypes.AttributeValueMemberS{Value: exceptionPrefix + key.Partition()},
		"sk": &dbtypes.AttributeValueMemberS{Value: rulePrefix + key.RuleName},
	}
}

func numberAttr(n int64) *dbtypes.AttributeValueMemberN {
	return &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// putString sets a string attribute, skipping empty values (DynamoDB rejects
// empty strings in index key attributes)
func putString(item map[string]dbtypes.AttributeValue, name, value string) {
	if value != "" {
		item[name] = &dbtypes.AttributeValueMemberS{Value: value}
	}
}

func getString(item map[string]dbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*dbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getTime(item map[string]dbtypes.AttributeValue, name string) (time.Time, error) {
	raw := getString(item, name)
	if raw == "" {
		return time.Time{}, nil
	}
	return types.ParseTimestamp(raw)
}

func getOptionalTime(item map[string]dbtypes.AttributeValue, name string) (*time.Time, error) {
	t, err := getTime(item, name)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func marshalLedgerRecord(rec types.LedgerRecord) (map[string]dbtypes.AttributeValue, error) {
	item := ledgerKeyAttrs(rec.PK, rec.SK)
	putString(item, "event_id", rec.EventID)
	putString(item, "account_id", rec.AccountID)
	putString(item, "region", rec.Region)
	putString(item, "resource_type", rec.ResourceType)
	putString(item, "resource_id", rec.ResourceID)
	putString(item, "rule_name", rec.RuleName)
	putString(item, "compliance_type", string(rec.ComplianceType))
	putString(item, "severity", string(rec.Severity))
	putString(item, "action", string(rec.Action))
	putString(item, "exception_id", rec.ExceptionID)
	putString(item, "exception_reason", rec.ExceptionReason)
	putString(item, "notification", rec.Notification)
	putString(item, "annotation", rec.Annotation)
	putString(item, "occurred_at", types.FormatTimestamp(rec.OccurredAt))
	putString(item, "processed_at", types.FormatTimestamp(rec.ProcessedAt))
	putString(item, "raw_payload", string(rec.RawPayload))

	if rec.Outcome != nil {
		outcome, err := json.Marshal(rec.Outcome)
		if err != nil {
			return nil, fmt.Errorf("failed to encode outcome: %w", err)
		}
		putString(item, "outcome", string(outcome))
	}
	if rec.ExpiresAt != nil {
		item["ttl"] = numberAttr(rec.ExpiresAt.Unix())
	}
	return item, nil
}

func unmarshalLedgerRecord(item map[string]dbtypes.AttributeValue) (*types.LedgerRecord, error) {
	rec := &types.LedgerRecord{
		PK:              getString(item, "pk"),
		SK:              getString(item, "sk"),
		EventID:         getString(item, "event_id"),
		AccountID:       getString(item, "account_id"),
		Region:          getString(item, "region"),
		ResourceType:    getString(item, "resource_type"),
		ResourceID:      getString(item, "resource_id"),
		RuleName:        getString(item, "rule_name"),
		ComplianceType:  types.ComplianceType(getString(item, "compliance_type")),
		Severity:        types.Severity(getString(item, "severity")),
		Action:          types.Action(getString(item, "action")),
		ExceptionID:     getString(item, "exception_id"),
		ExceptionReason: getString(item, "exception_reason"),
		Notification:    getString(item, "notification"),
		Annotation:      getString(item, "annotation"),
	}
	if raw := getString(item, "raw_payload"); raw != "" {
		rec.RawPayload = json.RawMessage(raw)
	}

	var err error
	if rec.OccurredAt, err = getTime(item, "occurred_at"); err != nil {
		return nil, fmt.Errorf("ledger record %s: %w", rec.Key(), err)
	}
	if rec.ProcessedAt, err = getTime(item, "processed_at"); err != nil {
		return nil, fmt.Errorf("ledger record %s: %w", rec.Key(), err)
	}
	if raw := getString(item, "outcome"); raw != "" {
		var outcome types.RemediationOutcome
		if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
			return nil, fmt.Errorf("ledger record %s: bad outcome: %w", rec.Key(), err)
		}
		rec.Outcome = &outcome
	}
	if ttl, ok := item["ttl"].(*dbtypes.AttributeValueMemberN); ok {
		secs, err := strconv.ParseInt(ttl.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger record %s: bad ttl: %w", rec.Key(), err)
		}
		expires := time.Unix(secs, 0).UTC()
		rec.ExpiresAt = &expires
	}
	return rec, nil
}

func marshalException(rec types.ExceptionRecord) (map[string]dbtypes.AttributeValue, error) {
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("exception %s has invalid status %q", rec.Key(), rec.Status)
	}
	item := exceptionKeyAttrs(rec.Key())
	putString(item, "exception_id", rec.ID)
	putString(item, "account_id", rec.AccountID)
	putString(item, "resource_id", rec.ResourceID)
	putString(item, "rule_name", rec.RuleName)
	putString(item, "status", string(rec.Status))
	putString(item, "requested_by", rec.RequestedBy)
	putString(item, "justification", rec.Justification)
	putString(item, "decided_by", rec.DecidedBy)
	putString(item, "decision_reason", rec.DecisionReason)
	putString(item, "created_at", types.FormatTimestamp(rec.CreatedAt))
	putString(item, "updated_at", types.FormatTimestamp(rec.UpdatedAt))
	if rec.DecidedAt != nil {
		putString(item, "decided_at", types.FormatTimestamp(*rec.DecidedAt))
	}
	if rec.ExpiresAt != nil {
		putString(item, "expires_at", types.FormatTimestamp(*rec.ExpiresAt))
		item["ttl"] = numberAttr(rec.ExpiresAt.Add(exceptionRetention).Unix())
	}
	return item, nil
}

func unmarshalException(item map[string]dbtypes.AttributeValue) (*types.ExceptionRecord, error) {
	rec := &types.ExceptionRecord{
		ID:             getString(item, "exception_id"),
		AccountID:      getString(item, "account_id"),
		ResourceID:     getString(item, "resource_id"),
		RuleName:       getString(item, "rule_name"),
		Status:         types.ExceptionStatus(getString(item, "status")),
		RequestedBy:    getString(item, "requested_by"),
		Justification:  getString(item, "justification"),
		DecidedBy:      getString(item, "decided_by"),
		DecisionReason: getString(item, "decision_reason"),
	}

	var err error
	if rec.CreatedAt, err = getTime(item, "created_at"); err != nil {
		return nil, fmt.Errorf("exception %s: %w", rec.Key(), err)
	}
	if rec.UpdatedAt, err = getTime(item, "updated_at"); err != nil {
		return nil, fmt.Errorf("exception %s: %w", rec.Key(), err)
	}
	if rec.DecidedAt, err = getOptionalTime(item, "decided_at"); err != nil {
		return nil, fmt.Errorf("exception %s: %w", rec.Key(), err)
	}
	if rec.ExpiresAt, err = getOptionalTime(item, "expires_at"); err != nil {
		return nil, fmt.Errorf("exception %s: %w", rec.Key(), err)
	}
	return rec, nil
}
