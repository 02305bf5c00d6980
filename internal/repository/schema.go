package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaPaymentMessages = `
CREATE TABLE IF NOT EXISTS payment_messages (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    encoding TEXT NOT NULL,
    message_ref TEXT NOT NULL,
    debtor_id TEXT NOT NULL,
    debtor_account_id TEXT NOT NULL,
    creditor_id TEXT NOT NULL,
    creditor_account_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    regulatory_code TEXT NOT NULL,
    received_at TIMESTAMP NOT NULL,
    message TEXT NOT NULL,
    raw TEXT
);

CREATE INDEX IF NOT EXISTS idx_payment_messages_tenant ON payment_messages(tenant_id);
CREATE INDEX IF NOT EXISTS idx_payment_messages_debtor ON payment_messages(tenant_id, debtor_id);
CREATE INDEX IF NOT EXISTS idx_payment_messages_received ON payment_messages(tenant_id, received_at);
`

const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    probability REAL NOT NULL,
    fraud_detected INTEGER NOT NULL,
    risk_score TEXT NOT NULL,
    verdict TEXT NOT NULL,
    normalizer_version TEXT NOT NULL,
    features TEXT NOT NULL,
    scaled TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_tenant ON risk_scores(tenant_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_message ON risk_scores(tenant_id, message_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_fraud ON risk_scores(tenant_id, fraud_detected);
`

// schemaNormalizers stores fitted normalization parameters. Artifacts are
// global: every tenant is scored against the same trained model.
const schemaNormalizers = `
CREATE TABLE IF NOT EXISTS normalizers (
    version TEXT PRIMARY KEY,
    schema_version TEXT NOT NULL,
    params TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_normalizers_created ON normalizers(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPaymentMessages,
		schemaRiskScores,
		schemaNormalizers,
	}
}
