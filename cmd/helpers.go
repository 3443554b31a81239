package cmd

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"qwenauth/internal/config"
	"qwenauth/internal/oauth"
	"qwenauth/internal/secrets"
	"qwenauth/internal/tokenstore"
)

// loadConfig reads the layered configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(rootConfigPath)
}

func newOAuthClient(cfg *config.Config) *oauth.Client {
	return oauth.NewClient(cfg.ClientID, cfg.BaseURL)
}

// newStore builds the token store selected by the configuration.
func newStore(cfg *config.Config) (tokenstore.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		cipher, err := secrets.New("")
		if err != nil {
			return nil, err
		}
		return tokenstore.NewDBStore(db, cipher, cfg.ModelConfigID), nil

	default:
		return tokenstore.NewFileStore(cfg.TokenPath)
	}
}
