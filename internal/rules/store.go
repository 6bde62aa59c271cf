package rules

import (
	"context"
	"fmt"

	"github.com/opensource-finance/heron/internal/domain"
)

// GlobalTenantID scopes rule tables shared by every tenant.
const GlobalTenantID = "*"

// Seed stores each document under the global tenant unless a table of the
// same name is already stored. Stored tables win over files so that edits
// made through the API survive restarts.
func Seed(ctx context.Context, repo domain.Repository, docs []*domain.StoredRuleTable) (int, error) {
	existing, err := repo.ListRuleTables(ctx, GlobalTenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rule tables: %w", err)
	}
	stored := make(map[string]bool, len(existing))
	for _, t := range existing {
		stored[t.Name] = true
	}

	seeded := 0
	for _, doc := range docs {
		if stored[doc.Name] {
			continue
		}
		if err := repo.SaveRuleTable(ctx, GlobalTenantID, doc); err != nil {
			return seeded, fmt.Errorf("failed to seed rule table %s: %w", doc.Name, err)
		}
		seeded++
	}
	return seeded, nil
}

// Sync replaces the registry contents with every stored global table.
// Every name in required must be present afterwards, otherwise the registry
// is left untouched.
func Sync(ctx context.Context, repo domain.Repository, reg *Registry, required []string) ([]string, error) {
	docs, err := repo.ListRuleTables(ctx, GlobalTenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule tables: %w", err)
	}

	tables := make([]*domain.RuleTable, 0, len(docs))
	present := make(map[string]bool, len(docs))
	for _, doc := range docs {
		table, err := Decode(doc)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
		present[table.Name] = true
	}
	for _, name := range required {
		if !present[name] {
			return nil, fmt.Errorf("%w: required table %s is not stored", ErrInvalidTable, name)
		}
	}

	if err := reg.Reload(tables); err != nil {
		return nil, err
	}
	return reg.Names(), nil
}
