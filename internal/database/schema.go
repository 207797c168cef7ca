package database

// schema is applied statement by statement so the same DDL runs on mysql and
// sqlite. Timestamps are unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS teams (
    id VARCHAR(36) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    admin_user_id VARCHAR(64) NOT NULL,
    credits INT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS team_invites (
    token VARCHAR(64) PRIMARY KEY,
    team_id VARCHAR(36) NOT NULL,
    context_id VARCHAR(36),
    credit_allocation INT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS persons (
    id VARCHAR(36) PRIMARY KEY,
    user_id VARCHAR(64),
    name VARCHAR(255) NOT NULL DEFAULT '',
    team_id VARCHAR(36),
    invite_token VARCHAR(64),
    credits INT NOT NULL DEFAULT 0,
    credit_allocation INT NOT NULL DEFAULT 0,
    allocation_used INT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
    user_id VARCHAR(64) PRIMARY KEY,
    tier VARCHAR(32) NOT NULL,
    period VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS packages (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    visible_categories TEXT NOT NULL,
    defaults TEXT NOT NULL,
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS package_ownerships (
    user_id VARCHAR(64) NOT NULL,
    package_id VARCHAR(64) NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (user_id, package_id)
)`,
	`CREATE TABLE IF NOT EXISTS style_contexts (
    id VARCHAR(36) PRIMARY KEY,
    user_id VARCHAR(64),
    team_id VARCHAR(36),
    name VARCHAR(255) NOT NULL,
    settings TEXT NOT NULL,
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS selfies (
    id VARCHAR(36) PRIMARY KEY,
    person_id VARCHAR(36) NOT NULL,
    s3_key VARCHAR(512) NOT NULL,
    asset_id VARCHAR(36),
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS assets (
    id VARCHAR(36) PRIMARY KEY,
    owner_scope VARCHAR(80) NOT NULL,
    raw_ref VARCHAR(512) NOT NULL,
    type VARCHAR(16) NOT NULL,
    content_type VARCHAR(64) NOT NULL DEFAULT '',
    size_bytes BIGINT NOT NULL DEFAULT 0,
    etag VARCHAR(128) NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    UNIQUE (owner_scope, raw_ref)
)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id VARCHAR(36) PRIMARY KEY,
    person_id VARCHAR(36) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    context_id VARCHAR(36),
    package_id VARCHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL,
    credit_source VARCHAR(16) NOT NULL,
    credits_used INT NOT NULL DEFAULT 0,
    provider VARCHAR(32) NOT NULL,
    generated_keys TEXT NOT NULL,
    accepted_key VARCHAR(512),
    max_regenerations INT NOT NULL,
    remaining_regenerations INT NOT NULL,
    generation_group_id VARCHAR(36) NOT NULL,
    is_original INT NOT NULL DEFAULT 1,
    group_index INT NOT NULL DEFAULT 0,
    style_settings TEXT NOT NULL,
    fingerprint VARCHAR(64) NOT NULL DEFAULT '',
    job_id VARCHAR(64),
    error_message TEXT,
    deleted INT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    completed_at BIGINT,
    accepted_at BIGINT
)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
    id VARCHAR(36) PRIMARY KEY,
    person_id VARCHAR(36) NOT NULL,
    team_id VARCHAR(36),
    pool VARCHAR(16) NOT NULL,
    generation_id VARCHAR(36),
    type VARCHAR(16) NOT NULL,
    delta INT NOT NULL,
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS generation_costs (
    generation_id VARCHAR(36) PRIMARY KEY,
    provider VARCHAR(32) NOT NULL,
    cost_micros BIGINT NOT NULL,
    recorded_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS app_settings (
    setting_key VARCHAR(128) PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS security_events (
    id VARCHAR(36) PRIMARY KEY,
    principal_id VARCHAR(64) NOT NULL,
    kind VARCHAR(64) NOT NULL,
    detail TEXT NOT NULL,
    created_at BIGINT NOT NULL
)`,
}
