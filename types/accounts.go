package types

import (
	"sort"
	"strings"
)

// ProductionAccounts is the fixed set of accounts treated as production
type ProductionAccounts struct {
	ids map[string]struct{}
}

// NewProductionAccounts builds the set, ignoring blanks
func NewProductionAccounts(ids ...string) ProductionAccounts {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return ProductionAccounts{ids: set}
}

// IsProduction reports whether accountID is in the set
func (p ProductionAccounts) IsProduction(accountID string) bool {
	_, ok := p.ids[accountID]
	return ok
}

// List returns the account ids in order
func (p ProductionAccounts) List() []string {
	out := make([]string, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
