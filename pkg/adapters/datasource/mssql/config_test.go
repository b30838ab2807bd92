package mssql

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{Host: "db", Database: "planning", Username: "reader"}
	cfg.applyDefaults()

	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, DefaultConnectionTimeout(), cfg.ConnectionTimeout)
	assert.Equal(t, AuthSQL, cfg.AuthMethod)
	require.NoError(t, cfg.Validate())

	sp := &Config{Host: "db", Database: "planning", ClientID: "app"}
	sp.applyDefaults()
	assert.Equal(t, AuthServicePrincipal, sp.AuthMethod)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing host", Config{Database: "d", Port: 1433, AuthMethod: AuthSQL, Username: "u"}, "host is required"},
		{"missing database", Config{Host: "h", Port: 1433, AuthMethod: AuthSQL, Username: "u"}, "database is required"},
		{"bad port", Config{Host: "h", Database: "d", Port: 70000, AuthMethod: AuthSQL, Username: "u"}, "invalid port"},
		{"sql without user", Config{Host: "h", Database: "d", Port: 1433, AuthMethod: AuthSQL}, "username is required"},
		{"sp without tenant", Config{Host: "h", Database: "d", Port: 1433, AuthMethod: AuthServicePrincipal, ClientID: "c", ClientSecret: "s"}, "tenant_id"},
		{"sp without secret", Config{Host: "h", Database: "d", Port: 1433, AuthMethod: AuthServicePrincipal, ClientID: "c", TenantID: "t"}, "client_secret"},
		{"unknown method", Config{Host: "h", Database: "d", Port: 1433, AuthMethod: "kerberos"}, "invalid auth method"},
		{"valid sp", Config{Host: "h", Database: "d", Port: 1433, AuthMethod: AuthServicePrincipal, ClientID: "c", TenantID: "t", ClientSecret: "s"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnectionString(t *testing.T) {
	driver, dsn := connectionString(&Config{
		Host: "sql.internal", Port: 1433, Database: "planning",
		AuthMethod: AuthSQL, Username: "reader", Password: "p@ss word",
		TrustServerCertificate: true, ConnectionTimeout: 15,
	})
	assert.Equal(t, "sqlserver", driver)
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "reader", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "planning", u.Query().Get("database"))
	assert.Equal(t, "false", u.Query().Get("encrypt"))
	assert.Equal(t, "true", u.Query().Get("TrustServerCertificate"))
	assert.Equal(t, "15", u.Query().Get("connection timeout"))

	driver, dsn = connectionString(&Config{
		Host: "sql.internal", Port: 1433, Database: "planning", Encrypt: true,
		AuthMethod: AuthServicePrincipal, TenantID: "t1", ClientID: "c1", ClientSecret: "s1",
	})
	assert.Equal(t, "azuresql", driver)
	assert.True(t, strings.Contains(dsn, "fedauth=ActiveDirectoryServicePrincipal"))
	assert.False(t, strings.Contains(dsn, "@sql.internal"), "service principal carries no user info")
}
