//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// newLocalstackDynamo brings up LocalStack and returns a client bound to it.
// Requires Docker.
func newLocalstackDynamo(t *testing.T) *dynamodb.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx, "localstack/localstack:3.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	require.NoError(t, err)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

func createTable(t *testing.T, client *dynamodb.Client, name string, indexes map[string]string, rangeAttr string) {
	t.Helper()

	attrs := []dbtypes.AttributeDefinition{
		{AttributeName: aws.String("pk"), AttributeType: dbtypes.ScalarAttributeTypeS},
		{AttributeName: aws.String("sk"), AttributeType: dbtypes.ScalarAttributeTypeS},
		{AttributeName: aws.String(rangeAttr), AttributeType: dbtypes.ScalarAttributeTypeS},
	}
	var gsis []dbtypes.GlobalSecondaryIndex
	for index, hash := range indexes {
		attrs = append(attrs, dbtypes.AttributeDefinition{AttributeName: aws.String(hash), AttributeType: dbtypes.ScalarAttributeTypeS})
		gsis = append(gsis, dbtypes.GlobalSecondaryIndex{
			IndexName: aws.String(index),
			KeySchema: []dbtypes.KeySchemaElement{
				{AttributeName: aws.String(hash), KeyType: dbtypes.KeyTypeHash},
				{AttributeName: aws.String(rangeAttr), KeyType: dbtypes.KeyTypeRange},
			},
			Projection: &dbtypes.Projection{ProjectionType: dbtypes.ProjectionTypeAll},
		})
	}

	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName:            aws.String(name),
		AttributeDefinitions: attrs,
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: dbtypes.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: dbtypes.KeyTypeRange},
		},
		GlobalSecondaryIndexes: gsis,
		BillingMode:            dbtypes.BillingModePayPerRequest,
	})
	require.NoError(t, err)
}

func TestDynamoLedger_Integration(t *testing.T) {
	client := newLocalstackDynamo(t)

	testLedgerContract(t, func(t *testing.T) LedgerStore {
		name := "ledger-" + sanitizeTableName(t.Name())
		createTable(t, client, name, map[string]string{
			RuleIndex:       "rule_name",
			ComplianceIndex: "compliance_type",
		}, "occurred_at")
		return NewDynamoLedger(client, name)
	})
}

func TestDynamoExceptions_Integration(t *testing.T) {
	client := newLocalstackDynamo(t)

	testExceptionContract(t, func(t *testing.T) ExceptionStore {
		name := "exceptions-" + sanitizeTableName(t.Name())
		createTable(t, client, name, map[string]string{StatusIndex: "status"}, "created_at")
		return NewDynamoExceptions(client, name)
	})
}

func sanitizeTableName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	if len(out) > 200 {
		out = out[len(out)-200:]
	}
	return string(out)
}
