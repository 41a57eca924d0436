package service

import (
	"context"
	"log/slog"

	"github.com/TWRT/taskboard/internal/client"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/repository"
)

var _ client.PreferenceStore = (*PreferenceService)(nil)

type PreferenceService struct {
	prefRepo *repository.PreferenceRepository
	logger   *slog.Logger
}

func NewPreferenceService(prefRepo *repository.PreferenceRepository, logger *slog.Logger) *PreferenceService {
	return &PreferenceService{
		prefRepo: prefRepo,
		logger:   logger,
	}
}

// GetPreferences reads both slots. A slot that was never written, or holds a
// value this version does not understand, reads as its default.
func (s *PreferenceService) GetPreferences(ctx context.Context, uid string) (models.Preferences, error) {
	if err := requireUID(uid); err != nil {
		return models.Preferences{}, err
	}
	prefs := models.DefaultPreferences()

	raw, ok, err := s.prefRepo.Get(ctx, uid, models.SlotTheme)
	if err != nil {
		return models.Preferences{}, err
	}
	if ok {
		if theme, err := models.ParseTheme(raw); err == nil {
			prefs.Theme = theme
		} else {
			s.logger.Warn("ignoring stored theme", slog.String("uid", uid), slog.String("value", raw))
		}
	}

	raw, ok, err = s.prefRepo.Get(ctx, uid, models.SlotView)
	if err != nil {
		return models.Preferences{}, err
	}
	if ok {
		if mode, err := models.ParseViewMode(raw); err == nil {
			prefs.View = mode
		} else {
			s.logger.Warn("ignoring stored view", slog.String("uid", uid), slog.String("value", raw))
		}
	}

	return prefs, nil
}

func (s *PreferenceService) SetTheme(ctx context.Context, uid string, theme models.Theme) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	parsed, err := models.ParseTheme(string(theme))
	if err != nil {
		return err
	}
	return s.prefRepo.Put(ctx, uid, models.SlotTheme, string(parsed))
}

func (s *PreferenceService) SetView(ctx context.Context, uid string, mode models.ViewMode) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	parsed, err := models.ParseViewMode(string(mode))
	if err != nil {
		return err
	}
	return s.prefRepo.Put(ctx, uid, models.SlotView, string(parsed))
}
