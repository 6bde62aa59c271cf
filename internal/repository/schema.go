package repository

// Schema definitions for the Heron database.
// Compatible with both SQLite and PostgreSQL.

// schemaRuleTables holds versioned rule table documents. Saving an existing
// version replaces its document.
const schemaRuleTables = `
CREATE TABLE IF NOT EXISTS rule_tables (
    name TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    version TEXT NOT NULL,
    format TEXT NOT NULL,
    document TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_tables_tenant ON rule_tables(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_tables_enabled ON rule_tables(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuleTables,
	}
}
