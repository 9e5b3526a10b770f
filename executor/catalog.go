package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// Action names
const (
	ActionBlockS3PublicAccess = "block-s3-public-access"
	ActionApplyRequiredTags   = "apply-required-tags"
	ActionRevokeOpenIngress   = "revoke-open-ingress"
	ActionDisableRDSPublic    = "disable-rds-public-access"
	ActionEnableEBSEncryption = "enable-ebs-default-encryption"
)

const (
	resourceTypeEC2Instance   = "AWS::EC2::Instance"
	resourceTypeS3Bucket      = "AWS::S3::Bucket"
	resourceTypeDynamoDBTable = "AWS::DynamoDB::Table"
	resourceTypeSecurityGroup = "AWS::EC2::SecurityGroup"
	resourceTypeRDSInstance   = "AWS::RDS::DBInstance"
)

// ApplyFunc performs one remediation and describes what it changed
type ApplyFunc func(ctx context.Context, clients Clients, req Request) (string, error)

// Action is one catalog entry
type Action struct {
	Name     string
	Category types.ActionCategory
	Rules    []string

	// ResourceTypes restricts the action; empty accepts any type
	ResourceTypes []string
	Apply         ApplyFunc
}

// Supports reports whether the action handles resourceType
func (a Action) Supports(resourceType string) bool {
	if len(a.ResourceTypes) == 0 {
		return true
	}
	for _, rt := range a.ResourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}

// Catalog maps Config rules to remediation actions
type Catalog struct {
	byRule map[string]Action
}

// NewCatalog indexes actions by rule. A rule claimed twice is an error.
func NewCatalog(actions ...Action) (*Catalog, error) {
	c := &Catalog{byRule: make(map[string]Action)}
	for _, action := range actions {
		if action.Name == "" || action.Apply == nil {
			return nil, fmt.Errorf("catalog action %q is incomplete", action.Name)
		}
		for _, rule := range action.Rules {
			if existing, ok := c.byRule[rule]; ok {
				return nil, fmt.Errorf("rule %s is claimed by both %s and %s", rule, existing.Name, action.Name)
			}
			c.byRule[rule] = action
		}
	}
	return c, nil
}

// DefaultCatalog returns the built-in remediation actions
func DefaultCatalog(tags types.RequiredTags) *Catalog {
	c, err := NewCatalog(
		Action{
			Name:     ActionBlockS3PublicAccess,
			Category: types.CategoryStorageAccess,
			Rules: []string{
				"s3-bucket-public-read-prohibited",
				"s3-bucket-public-write-prohibited",
				"s3-bucket-level-public-access-prohibited",
			},
			ResourceTypes: []string{resourceTypeS3Bucket},
			Apply:         blockS3PublicAccess,
		},
		Action{
			Name:          ActionApplyRequiredTags,
			Category:      types.CategoryTagging,
			Rules:         []string{"required-tags"},
			ResourceTypes: []string{resourceTypeEC2Instance, resourceTypeS3Bucket, resourceTypeDynamoDBTable},
			Apply:         applyRequiredTags(tags),
		},
		Action{
			Name:          ActionRevokeOpenIngress,
			Category:      types.CategoryNetworkIngress,
			Rules:         []string{"restricted-ssh", "restricted-rdp"},
			ResourceTypes: []string{resourceTypeSecurityGroup},
			Apply:         revokeOpenIngress,
		},
		Action{
			Name:          ActionDisableRDSPublic,
			Category:      types.CategoryNetworkExposure,
			Rules:         []string{"rds-instance-public-access-check"},
			ResourceTypes: []string{resourceTypeRDSInstance},
			Apply:         disableRDSPublicAccess,
		},
		Action{
			Name:     ActionEnableEBSEncryption,
			Category: types.CategoryEncryption,
			Rules:    []string{"ec2-ebs-encryption-by-default"},
			Apply:    enableEBSDefaultEncryption,
		},
	)
	if err != nil {
		panic(err) // static table
	}
	return c
}

// Lookup returns the action for ruleName
func (c *Catalog) Lookup(ruleName string) (Action, bool) {
	action, ok := c.byRule[ruleName]
	return action, ok
}

// Rules returns every rule with an action, sorted
func (c *Catalog) Rules() []string {
	rules := make([]string, 0, len(c.byRule))
	for rule := range c.byRule {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	return rules
}

// ingressPorts maps ingress rules to the port they police
var ingressPorts = map[string]int32{
	"restricted-ssh": 22,
	"restricted-rdp": 3389,
}
