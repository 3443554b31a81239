package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"qwenauth/internal/oauth"
	"qwenauth/internal/secrets"
	"qwenauth/pkg/logging"
)

// ModelConfig is the model_configs row the OAuth columns live on. Each
// model configuration can hold an independent OAuth token.
type ModelConfig struct {
	ID                int64     `gorm:"primaryKey"`
	Name              string    `gorm:"size:255"`
	OAuthAccessToken  *string   `gorm:"column:oauth_access_token"`
	OAuthTokenType    *string   `gorm:"column:oauth_token_type;size:32"`
	OAuthRefreshToken *string   `gorm:"column:oauth_refresh_token"`
	OAuthExpiresAt    *int64    `gorm:"column:oauth_expires_at"`
	OAuthScope        *string   `gorm:"column:oauth_scope;size:255"`
	OAuthMetadata     *string   `gorm:"column:oauth_metadata"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName keeps the original table name.
func (ModelConfig) TableName() string { return "model_configs" }

// oauthMetadata is the JSON blob stored in oauth_metadata.
type oauthMetadata struct {
	ResourceURL string `json:"resource_url,omitempty"`
}

// DBStore persists the token on a model_configs row, keyed by config
// id. Access and refresh tokens are encrypted at rest with the given
// cipher.
type DBStore struct {
	db       *gorm.DB
	cipher   *secrets.Cipher
	configID int64
}

// NewDBStore creates a relational store bound to one model config row.
func NewDBStore(db *gorm.DB, cipher *secrets.Cipher, configID int64) *DBStore {
	return &DBStore{db: db, cipher: cipher, configID: configID}
}

// Save writes the token onto the config row, overwriting any previous
// token. A missing row is an error: tokens never create configs.
func (s *DBStore) Save(ctx context.Context, token *oauth.Token) error {
	encAccess, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return err
	}
	encRefresh, err := s.cipher.Encrypt(token.RefreshToken)
	if err != nil {
		return err
	}

	tokenType := "Bearer"
	scope := oauth.Scope

	var metadata *string
	if token.ResourceURL != "" {
		raw, err := json.Marshal(oauthMetadata{ResourceURL: token.ResourceURL})
		if err != nil {
			return fmt.Errorf("failed to encode token metadata: %w", err)
		}
		m := string(raw)
		metadata = &m
	}

	result := s.db.WithContext(ctx).Model(&ModelConfig{}).
		Where("id = ?", s.configID).
		Updates(map[string]any{
			"oauth_access_token":  encAccess,
			"oauth_token_type":    tokenType,
			"oauth_refresh_token": encRefresh,
			"oauth_expires_at":    token.ExpiresAt,
			"oauth_scope":         scope,
			"oauth_metadata":      metadata,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save token for config %d: %w", s.configID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("model config %d not found", s.configID)
	}

	logging.Info("TokenStore", "Token saved to config %d (expires_at=%s)",
		s.configID, time.UnixMilli(token.ExpiresAt).Format(time.RFC3339))
	return nil
}

// Load reads the token from the config row. A missing row, absent
// token columns, or an undecryptable token all return (nil, nil);
// decryption failures are logged because they usually mean a rotated
// encryption key.
func (s *DBStore) Load(ctx context.Context) (*oauth.Token, error) {
	var cfg ModelConfig
	err := s.db.WithContext(ctx).First(&cfg, s.configID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logging.Warn("TokenStore", "Model config %d not found", s.configID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token for config %d: %w", s.configID, err)
	}

	if cfg.OAuthAccessToken == nil || cfg.OAuthRefreshToken == nil || cfg.OAuthExpiresAt == nil {
		return nil, nil
	}

	accessToken, err := s.cipher.Decrypt(*cfg.OAuthAccessToken)
	if err != nil {
		logging.Warn("TokenStore", "Failed to decrypt access token for config %d: %v", s.configID, err)
		return nil, nil
	}
	refreshToken, err := s.cipher.Decrypt(*cfg.OAuthRefreshToken)
	if err != nil {
		logging.Warn("TokenStore", "Failed to decrypt refresh token for config %d: %v", s.configID, err)
		return nil, nil
	}

	var resourceURL string
	if cfg.OAuthMetadata != nil {
		var meta oauthMetadata
		if err := json.Unmarshal([]byte(*cfg.OAuthMetadata), &meta); err == nil {
			resourceURL = meta.ResourceURL
		}
	}

	return &oauth.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    *cfg.OAuthExpiresAt,
		ResourceURL:  resourceURL,
	}, nil
}

// Delete clears the OAuth columns on the config row. A missing row is
// a no-op.
func (s *DBStore) Delete(ctx context.Context) error {
	result := s.db.WithContext(ctx).Model(&ModelConfig{}).
		Where("id = ?", s.configID).
		Updates(map[string]any{
			"oauth_access_token":  nil,
			"oauth_token_type":    nil,
			"oauth_refresh_token": nil,
			"oauth_expires_at":    nil,
			"oauth_scope":         nil,
			"oauth_metadata":      nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to delete token for config %d: %w", s.configID, result.Error)
	}
	if result.RowsAffected == 0 {
		logging.Warn("TokenStore", "Model config %d not found, nothing to delete", s.configID)
	}
	return nil
}

// Has reports whether the config row currently holds a token pair.
func (s *DBStore) Has(ctx context.Context) (bool, error) {
	var cfg ModelConfig
	err := s.db.WithContext(ctx).First(&cfg, s.configID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cfg.OAuthAccessToken != nil && cfg.OAuthRefreshToken != nil, nil
}
