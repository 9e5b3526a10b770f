package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaAPI defines the Lambda operations used by the notifier
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaNotifier hands notifications to a function invoked asynchronously
type LambdaNotifier struct {
	client       LambdaAPI
	functionName string
}

// NewLambdaNotifier creates a notifier invoking functionName
func NewLambdaNotifier(client LambdaAPI, functionName string) *LambdaNotifier {
	return &LambdaNotifier{client: client, functionName: functionName}
}

type lambdaPayload struct {
	ComplianceData Message `json:"compliance_data"`
}

// Name implements Notifier
func (l *LambdaNotifier) Name() string { return "lambda" }

// Notify implements Notifier
func (l *LambdaNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(lambdaPayload{ComplianceData: NewMessage(n)})
	if err != nil {
		return fmt.Errorf("failed to marshal lambda payload: %w", err)
	}

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.functionName),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke %s: %w", l.functionName, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("%s returned function error: %s", l.functionName, aws.ToString(out.FunctionError))
	}
	return nil
}
