package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TenantConfig is one team's MQTT identity: who owns it, the topic root
// its kit publishes under, and the broker listener it was provisioned
// against. Loaded read-only; the admin surface that edits these rows
// lives outside this repository.
type TenantConfig struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Principal string    `json:"principal"` // web-layer username owning this config
	Username  string    `json:"username"`  // broker credential
	Password  string    `json:"-"`
	TopicRoot string    `json:"topic_root"`

	// Listener details, zero-valued when the listener was deleted.
	BrokerProtocol string `json:"broker_protocol,omitempty"`
	BrokerHost     string `json:"broker_host,omitempty"`
	BrokerPort     int    `json:"broker_port,omitempty"`
}

// BrokerURL returns the credentialed connection URL
// ("mqtt[s]://user:pass@host:port"), or "" when no listener is set.
func (c *TenantConfig) BrokerURL() string {
	if c.BrokerHost == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d",
		c.BrokerProtocol, c.Username, c.Password, c.BrokerHost, c.BrokerPort)
}

// FullBrokerURL appends the topic root, the form handed to a kit at
// provisioning time.
func (c *TenantConfig) FullBrokerURL() string {
	if c.BrokerHost == "" {
		return ""
	}
	return c.BrokerURL() + "/" + c.TopicRoot
}

type ConfigModel struct {
	DB DBTX
}

const tenantConfigColumns = `
	c.id, c.name, c.principal, c.username, c.password, c.topic_root,
	l.protocol, b.host, l.port`

const tenantConfigJoins = `
	FROM mqtt_configs c
	LEFT JOIN broker_listeners l ON c.broker_listener_id = l.id
	LEFT JOIN brokers b ON l.broker_id = b.id`

func scanTenantConfig(row interface{ Scan(...any) error }) (*TenantConfig, error) {
	var c TenantConfig
	var proto, host sql.NullString
	var port sql.NullInt64

	err := row.Scan(
		&c.ID, &c.Name, &c.Principal, &c.Username, &c.Password, &c.TopicRoot,
		&proto, &host, &port,
	)
	if err != nil {
		return nil, err
	}
	c.BrokerProtocol = proto.String
	c.BrokerHost = host.String
	c.BrokerPort = int(port.Int64)
	return &c, nil
}

// ListAll returns every tenant config; this is the registry snapshot
// source, loaded once per session and on explicit reload.
func (m ConfigModel) ListAll(ctx context.Context) ([]*TenantConfig, error) {
	query := `SELECT` + tenantConfigColumns + tenantConfigJoins + `
	ORDER BY c.name`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*TenantConfig
	for rows.Next() {
		c, err := scanTenantConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetByPrincipal looks up the config owned by a web-layer user.
func (m ConfigModel) GetByPrincipal(ctx context.Context, principal string) (*TenantConfig, error) {
	query := `SELECT` + tenantConfigColumns + tenantConfigJoins + `
	WHERE c.principal = $1`

	c, err := scanTenantConfig(m.DB.QueryRowContext(ctx, query, principal))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
