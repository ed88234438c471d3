package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/customeros/mailbackend/internal/config"
)

func TestValidateConfig(t *testing.T) {
	valid := config.DatabaseConfig{Host: "localhost", Port: "5432", User: "u", Password: "p", DBName: "db", SSLMode: "disable"}

	tests := []struct {
		name    string
		mutate  func(c *config.DatabaseConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *config.DatabaseConfig) {}},
		{name: "missing host", mutate: func(c *config.DatabaseConfig) { c.Host = "" }, wantErr: true},
		{name: "missing password", mutate: func(c *config.DatabaseConfig) { c.Password = "" }, wantErr: true},
		{name: "missing ssl mode", mutate: func(c *config.DatabaseConfig) { c.SSLMode = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := validateConfig(&cfg)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewConnection_InvalidPort(t *testing.T) {
	// Arrange
	cfg := &config.DatabaseConfig{Host: "localhost", Port: "abc", User: "u", Password: "p", DBName: "db", SSLMode: "disable"}

	// Act
	db, err := NewConnection(cfg)

	// Assert
	assert.Nil(t, db)
	assert.ErrorContains(t, err, "invalid port")
}

func TestValidateConfig_Nil(t *testing.T) {
	assert.Error(t, validateConfig(nil))
}
