package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var openCIDRs = map[string]bool{
	"0.0.0.0/0": true,
	"::/0":      true,
}

// blockS3PublicAccess turns on all four public access block flags
func blockS3PublicAccess(ctx context.Context, clients Clients, req Request) (string, error) {
	_, err := clients.S3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(req.ResourceID),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put public access block on %s: %w", req.ResourceID, err)
	}
	return "public access block enabled", nil
}

// applyRequiredTags adds missing required tags without touching existing keys
func applyRequiredTags(required types.RequiredTags) ApplyFunc {
	return func(ctx context.Context, clients Clients, req Request) (string, error) {
		switch req.ResourceType {
		case resourceTypeEC2Instance:
			return tagEC2Instance(ctx, clients.EC2, req, required)
		case resourceTypeS3Bucket:
			return tagS3Bucket(ctx, clients.S3, req, required)
		case resourceTypeDynamoDBTable:
			return tagDynamoDBTable(ctx, clients.DynamoDB, req, required)
		}
		return "", &types.UnknownRemediationError{RuleName: req.RuleName, ResourceType: req.ResourceType}
	}
}

func tagEC2Instance(ctx context.Context, client EC2API, req Request, required types.RequiredTags) (string, error) {
	existing := make(map[string]string)
	paginator := ec2.NewDescribeTagsPaginator(client, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-id"), Values: []string{req.ResourceID}},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to describe tags on %s: %w", req.ResourceID, err)
		}
		for _, tag := range page.Tags {
			existing[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
	}

	missing := required.Missing(existing)
	if len(missing) == 0 {
		return "required tags already present", nil
	}

	tags := make([]ec2types.Tag, 0, len(missing))
	for _, key := range sortedKeys(missing) {
		tags = append(tags, ec2types.Tag{Key: aws.String(key), Value: aws.String(missing[key])})
	}
	if _, err := client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{req.ResourceID},
		Tags:      tags,
	}); err != nil {
		return "", fmt.Errorf("failed to create tags on %s: %w", req.ResourceID, err)
	}
	return addedTags(missing), nil
}

// tagS3Bucket merges the required tags into the bucket tag set, which S3
// only replaces as a whole
func tagS3Bucket(ctx context.Context, client S3API, req Request, required types.RequiredTags) (string, error) {
	var current []s3types.Tag
	out, err := client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(req.ResourceID)})
	switch {
	case err == nil:
		current = out.TagSet
	case apiErrorCode(err) == "NoSuchTagSet":
	default:
		return "", fmt.Errorf("failed to get tags on %s: %w", req.ResourceID, err)
	}

	existing := make(map[string]string, len(current))
	for _, tag := range current {
		existing[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	missing := required.Missing(existing)
	if len(missing) == 0 {
		return "required tags already present", nil
	}

	merged := append([]s3types.Tag{}, current...)
	for _, key := range sortedKeys(missing) {
		merged = append(merged, s3types.Tag{Key: aws.String(key), Value: aws.String(missing[key])})
	}
	if _, err := client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(req.ResourceID),
		Tagging: &s3types.Tagging{TagSet: merged},
	}); err != nil {
		return "", fmt.Errorf("failed to put tags on %s: %w", req.ResourceID, err)
	}
	return addedTags(missing), nil
}

func tagDynamoDBTable(ctx context.Context, client DynamoDBTagAPI, req Request, required types.RequiredTags) (string, error) {
	arn := DynamoDBTableARN(req.Partition, req.Region, req.AccountID, req.ResourceID)

	existing := make(map[string]string)
	input := &dynamodb.ListTagsOfResourceInput{ResourceArn: aws.String(arn)}
	for {
		out, err := client.ListTagsOfResource(ctx, input)
		if err != nil {
			return "", fmt.Errorf("failed to list tags on %s: %w", arn, err)
		}
		for _, tag := range out.Tags {
			existing[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	missing := required.Missing(existing)
	if len(missing) == 0 {
		return "required tags already present", nil
	}

	tags := make([]dynamodbtypes.Tag, 0, len(missing))
	for _, key := range sortedKeys(missing) {
		tags = append(tags, dynamodbtypes.Tag{Key: aws.String(key), Value: aws.String(missing[key])})
	}
	if _, err := client.TagResource(ctx, &dynamodb.TagResourceInput{
		ResourceArn: aws.String(arn),
		Tags:        tags,
	}); err != nil {
		return "", fmt.Errorf("failed to tag %s: %w", arn, err)
	}
	return addedTags(missing), nil
}

// DynamoDBTableARN builds a table ARN; Config reports tables by name
func DynamoDBTableARN(partition, region, accountID, table string) string {
	if partition == "" {
		partition = DefaultPartition
	}
	return fmt.Sprintf("arn:%s:dynamodb:%s:%s:table/%s", partition, region, accountID, table)
}

// revokeOpenIngress revokes world-open ranges that expose the rule's port.
// Narrower ranges on the same permission are left in place.
func revokeOpenIngress(ctx context.Context, clients Clients, req Request) (string, error) {
	port, ok := ingressPorts[req.RuleName]
	if !ok {
		return "", &types.UnknownRemediationError{RuleName: req.RuleName}
	}

	out, err := clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{req.ResourceID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe security group %s: %w", req.ResourceID, err)
	}
	if len(out.SecurityGroups) == 0 {
		return "", fmt.Errorf("security group %s not found", req.ResourceID)
	}

	var revoke []ec2types.IpPermission
	for _, perm := range out.SecurityGroups[0].IpPermissions {
		if open, ok := openPermission(perm, port); ok {
			revoke = append(revoke, open)
		}
	}
	if len(revoke) == 0 {
		return fmt.Sprintf("no open ingress on port %d", port), nil
	}

	if _, err := clients.EC2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:       aws.String(req.ResourceID),
		IpPermissions: revoke,
	}); err != nil {
		return "", fmt.Errorf("failed to revoke ingress on %s: %w", req.ResourceID, err)
	}
	return fmt.Sprintf("revoked %d open ingress permission(s) covering port %d", len(revoke), port), nil
}

// openPermission returns the world-open part of perm when it covers port
func openPermission(perm ec2types.IpPermission, port int32) (ec2types.IpPermission, bool) {
	if !coversPort(perm, port) {
		return ec2types.IpPermission{}, false
	}

	open := ec2types.IpPermission{
		IpProtocol: perm.IpProtocol,
		FromPort:   perm.FromPort,
		ToPort:     perm.ToPort,
	}
	for _, r := range perm.IpRanges {
		if openCIDRs[aws.ToString(r.CidrIp)] {
			open.IpRanges = append(open.IpRanges, ec2types.IpRange{CidrIp: r.CidrIp})
		}
	}
	for _, r := range perm.Ipv6Ranges {
		if openCIDRs[aws.ToString(r.CidrIpv6)] {
			open.Ipv6Ranges = append(open.Ipv6Ranges, ec2types.Ipv6Range{CidrIpv6: r.CidrIpv6})
		}
	}
	if len(open.IpRanges) == 0 && len(open.Ipv6Ranges) == 0 {
		return ec2types.IpPermission{}, false
	}
	return open, true
}

func coversPort(perm ec2types.IpPermission, port int32) bool {
	switch strings.ToLower(aws.ToString(perm.IpProtocol)) {
	case "-1":
		return true
	case "tcp", "6":
		if perm.FromPort == nil || perm.ToPort == nil {
			return false
		}
		return *perm.FromPort <= port && port <= *perm.ToPort
	}
	return false
}

// disableRDSPublicAccess clears PubliclyAccessible immediately
func disableRDSPublicAccess(ctx context.Context, clients Clients, req Request) (string, error) {
	_, err := clients.RDS.ModifyDBInstance(ctx, &rds.ModifyDBInstanceInput{
		DBInstanceIdentifier: aws.String(req.ResourceID),
		PubliclyAccessible:   aws.Bool(false),
		ApplyImmediately:     aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to modify DB instance %s: %w", req.ResourceID, err)
	}
	return "public accessibility disabled", nil
}

// enableEBSDefaultEncryption is region-scoped; the resource id is the account
func enableEBSDefaultEncryption(ctx context.Context, clients Clients, req Request) (string, error) {
	current, err := clients.EC2.GetEbsEncryptionByDefault(ctx, &ec2.GetEbsEncryptionByDefaultInput{})
	if err != nil {
		return "", fmt.Errorf("failed to read EBS default encryption in %s: %w", req.Region, err)
	}
	if aws.ToBool(current.EbsEncryptionByDefault) {
		return "EBS default encryption already enabled", nil
	}

	if _, err := clients.EC2.EnableEbsEncryptionByDefault(ctx, &ec2.EnableEbsEncryptionByDefaultInput{}); err != nil {
		return "", fmt.Errorf("failed to enable EBS default encryption in %s: %w", req.Region, err)
	}
	return "EBS default encryption enabled", nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func addedTags(missing map[string]string) string {
	return "added tags: " + strings.Join(sortedKeys(missing), ", ")
}

// apiErrorCode extracts the AWS error code, if any
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
