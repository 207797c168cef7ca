package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/pricing"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/style"
)

// StyleRequest carries everything the resolver needs for one generation.
type StyleRequest struct {
	Package      *models.Package
	PresetID     string
	Preset       *style.Settings
	Overrides    json.RawMessage
	PayingPeriod pricing.Period
	Invited      bool
}

// StyleResolver merges package defaults, a preset and requester overrides.
type StyleResolver struct {
	settings      *repository.SettingsRepository
	freePackageID string
	log           *slog.Logger
}

func NewStyleResolver(settings *repository.SettingsRepository, freePackageID string, log *slog.Logger) *StyleResolver {
	return &StyleResolver{settings: settings, freePackageID: freePackageID, log: log}
}

// FreeEnforced reports whether the admin baseline replaces the preset.
func (r *StyleResolver) FreeEnforced(packageID string, payingPeriod pricing.Period, invited bool) bool {
	return packageID == r.freePackageID && pricing.IsFreePeriod(payingPeriod) && !invited
}

// Resolve validates overrides against the package categories and merges
// overrides > preset > package defaults. On the free package for a free
// paying principal the admin baseline takes the place of the preset.
func (r *StyleResolver) Resolve(ctx context.Context, req StyleRequest) (style.Settings, error) {
	pkg := req.Package
	visible, err := style.ParseCategorySet(pkg.VisibleCategories)
	if err != nil {
		return style.Settings{}, apperrors.Internal(apperrors.CodeInternal, "package is misconfigured", fmt.Errorf("package %s: %w", pkg.ID, err))
	}

	overrides, err := style.ParseOverrides(req.Overrides, visible)
	if err != nil {
		var disallowed *style.DisallowedCategoryError
		if errors.As(err, &disallowed) {
			return style.Settings{}, apperrors.Validation(apperrors.CodeDisallowedCategory, "styleOverrides", disallowed.Error())
		}
		return style.Settings{}, apperrors.Validation(apperrors.CodeInvalidRequest, "styleOverrides", "style overrides are malformed")
	}

	defaults, err := style.Decode(pkg.Defaults)
	if err != nil {
		return style.Settings{}, apperrors.Internal(apperrors.CodeInternal, "package is misconfigured", fmt.Errorf("package %s: %w", pkg.ID, err))
	}
	defaults = style.Project(defaults, visible)

	var middle style.Settings
	presetID := req.PresetID
	if r.FreeEnforced(pkg.ID, req.PayingPeriod, req.Invited) {
		baseline, err := r.FreePackageBaseline(ctx)
		if err != nil {
			return style.Settings{}, err
		}
		middle = style.Project(baseline, visible)
		presetID = ""
	} else if req.Preset != nil {
		middle = style.Project(*req.Preset, visible)
	}
	middle.InputSelfies = nil
	middle.PackageID = ""

	merged := style.Merge(defaults, middle, overrides)
	merged.PackageID = pkg.ID
	merged.PresetID = presetID
	return merged, nil
}

// FreePackageBaseline reads the admin-configured style for free users.
func (r *StyleResolver) FreePackageBaseline(ctx context.Context) (style.Settings, error) {
	raw, err := r.settings.Get(ctx, repository.SettingFreePackageStyle)
	if err != nil {
		return style.Settings{}, err
	}
	baseline, err := style.Decode(raw)
	if err != nil {
		return style.Settings{}, apperrors.Internal(apperrors.CodeInternal, "free package style is misconfigured", err)
	}
	return baseline, nil
}

// SetFreePackageBaseline validates and stores the free-package style.
func (r *StyleResolver) SetFreePackageBaseline(ctx context.Context, raw json.RawMessage) (style.Settings, error) {
	all := style.NewCategorySet(style.AllCategories()...)
	baseline, err := style.ParseOverrides(raw, all)
	if err != nil {
		return style.Settings{}, apperrors.Validation(apperrors.CodeInvalidRequest, "style", err.Error())
	}
	encoded, err := baseline.Encode()
	if err != nil {
		return style.Settings{}, err
	}
	if err := r.settings.Put(ctx, repository.SettingFreePackageStyle, encoded); err != nil {
		return style.Settings{}, err
	}
	r.log.Info("free package style updated")
	return baseline, nil
}
