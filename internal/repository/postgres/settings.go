package postgres

import (
	"context"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type settingsRepository struct {
	BaseRepository
}

func NewSettingsRepository(base BaseRepository) repository.SettingsRepository {
	return &settingsRepository{base}
}

func (r *settingsRepository) GetActive(ctx context.Context) (*model.EmailSettings, error) {
	var s model.EmailSettings
	query := `
		SELECT id, provider_type, provider_config, default_from_name, default_from_email,
			COALESCE(default_reply_to, '') AS default_reply_to, send_limit, is_active,
			created_at, updated_at
		FROM email_settings
		WHERE is_active = true
		ORDER BY id
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &s, query); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}
