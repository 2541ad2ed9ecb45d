package sqlstore

import (
	"fmt"

	"github.com/Rrens/flowbot/internal/domain"
)

type dialect struct {
	name      string
	driver    string
	forUpdate string
	schema    []string
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL,
			user_channel_id VARCHAR(191) NOT NULL,
			channel_type VARCHAR(32) NOT NULL,
			current_node_id VARCHAR(191),
			active_flow_activation_id VARCHAR(64),
			state_data MEDIUMTEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			metadata MEDIUMTEXT NOT NULL,
			last_interaction_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_sessions_lookup
			ON conversation_sessions (tenant_id, user_channel_id, channel_type, status)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id VARCHAR(36) NOT NULL UNIQUE,
			session_id VARCHAR(36) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			content_type VARCHAR(32) NOT NULL,
			from_user BOOLEAN NOT NULL,
			node_id VARCHAR(191),
			metadata MEDIUMTEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_messages_session
			ON conversation_messages (session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS node_transitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id VARCHAR(36) NOT NULL,
			tenant_id VARCHAR(191) NOT NULL,
			from_node_id VARCHAR(191),
			to_node_id VARCHAR(191),
			handle VARCHAR(64),
			metadata MEDIUMTEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS flow_activations (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL,
			name VARCHAR(191) NOT NULL,
			graph MEDIUMTEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			activated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS flow_activations_tenant
			ON flow_activations (tenant_id, is_active)`,
	},
}

var mysqlDialect = dialect{
	name:      "mysql",
	driver:    "mysql",
	forUpdate: " FOR UPDATE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL,
			user_channel_id VARCHAR(191) NOT NULL,
			channel_type VARCHAR(32) NOT NULL,
			current_node_id VARCHAR(191),
			active_flow_activation_id VARCHAR(64),
			state_data MEDIUMTEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			metadata MEDIUMTEXT NOT NULL,
			last_interaction_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX conversation_sessions_lookup (tenant_id, user_channel_id, channel_type, status)
		) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(36) NOT NULL UNIQUE,
			session_id VARCHAR(36) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			content_type VARCHAR(32) NOT NULL,
			from_user BOOLEAN NOT NULL,
			node_id VARCHAR(191),
			metadata MEDIUMTEXT,
			created_at BIGINT NOT NULL,
			INDEX conversation_messages_session (session_id, seq)
		) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS node_transitions (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			session_id VARCHAR(36) NOT NULL,
			tenant_id VARCHAR(191) NOT NULL,
			from_node_id VARCHAR(191),
			to_node_id VARCHAR(191),
			handle VARCHAR(64),
			metadata MEDIUMTEXT,
			created_at BIGINT NOT NULL
		) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS flow_activations (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL,
			name VARCHAR(191) NOT NULL,
			graph MEDIUMTEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			activated_at BIGINT NOT NULL,
			INDEX flow_activations_tenant (tenant_id, is_active)
		) CHARACTER SET utf8mb4`,
	},
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "mysql":
		return mysqlDialect, nil
	}
	return dialect{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedStore, driver)
}
