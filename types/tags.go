package types

// RequiredTags is the tag set the tagging remediation guarantees on a resource.
// Explicit fields rather than a free-form map so configuration stays typed.
type RequiredTags struct {
	Owner       string `json:"owner" yaml:"owner"`
	CostCenter  string `json:"cost_center" yaml:"cost_center"`
	Project     string `json:"project" yaml:"project"`
	Environment string `json:"environment" yaml:"environment"`
}

// DefaultRequiredTags returns the platform defaults
func DefaultRequiredTags() RequiredTags {
	return RequiredTags{
		Owner:       "PlatformOps",
		CostCenter:  "0000",
		Project:     "GovernanceRemediation",
		Environment: "Production",
	}
}

// ToMap converts the tags to AWS key/value form, skipping empty values
func (t RequiredTags) ToMap() map[string]string {
	tags := make(map[string]string, 4)
	if t.Owner != "" {
		tags["Owner"] = t.Owner
	}
	if t.CostCenter != "" {
		tags["CostCenter"] = t.CostCenter
	}
	if t.Project != "" {
		tags["Project"] = t.Project
	}
	if t.Environment != "" {
		tags["Environment"] = t.Environment
	}
	return tags
}

// Missing returns the required tags absent from existing.
// Existing keys are never overwritten, whatever their value.
func (t RequiredTags) Missing(existing map[string]string) map[string]string {
	missing := make(map[string]string)
	for key, value := range t.ToMap() {
		if _, ok := existing[key]; !ok {
			missing[key] = value
		}
	}
	return missing
}
