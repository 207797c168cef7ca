package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/storage"
)

// PersonScope and TeamScope build asset owner scopes.
func PersonScope(personID string) string { return "person:" + personID }

func TeamScope(teamID string) string { return "team:" + teamID }

// AssetInput is one reusable input to fingerprint.
type AssetInput struct {
	RawRef     string
	OwnerScope string
	Type       models.AssetType
	Selfie     *models.Selfie
}

// AssetResolver maps stored content references to stable asset identities.
type AssetResolver struct {
	assets  *repository.AssetRepository
	selfies *repository.SelfieRepository
	store   ObjectStore
	log     *slog.Logger
}

func NewAssetResolver(assets *repository.AssetRepository, selfies *repository.SelfieRepository, store ObjectStore, log *slog.Logger) *AssetResolver {
	return &AssetResolver{assets: assets, selfies: selfies, store: store, log: log}
}

// ResolveToAsset returns the asset for (rawRef, ownerScope), creating it on
// first sight. Repeated calls return the same asset id.
func (r *AssetResolver) ResolveToAsset(ctx context.Context, rawRef, ownerScope string, typ models.AssetType) (*models.Asset, error) {
	rawRef = strings.TrimSpace(rawRef)
	if rawRef == "" || ownerScope == "" {
		return nil, fmt.Errorf("resolve asset: reference and owner scope are required")
	}

	existing, err := r.assets.FindByRef(ctx, ownerScope, rawRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	asset := &models.Asset{OwnerScope: ownerScope, RawRef: rawRef, Type: typ}
	if r.store != nil {
		info, err := r.store.Stat(ctx, rawRef)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			return nil, fmt.Errorf("resolve asset %s: %w", rawRef, err)
		case err != nil:
			r.log.Warn("asset metadata unavailable", "ref", rawRef, "err", err)
		default:
			asset.ContentType = info.ContentType
			asset.SizeBytes = info.Size
			asset.ETag = info.ETag
		}
	}

	created, _, err := r.assets.FindOrCreate(ctx, asset)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ResolveSelfie resolves a selfie in its person's scope and links the asset
// back to the selfie when it has none yet.
func (r *AssetResolver) ResolveSelfie(ctx context.Context, selfie *models.Selfie) (*models.Asset, error) {
	asset, err := r.ResolveToAsset(ctx, selfie.Key, PersonScope(selfie.PersonID), models.AssetSelfie)
	if err != nil {
		return nil, err
	}
	if selfie.AssetID == "" {
		if _, err := r.selfies.LinkAsset(ctx, selfie.ID, asset.ID); err != nil {
			r.log.Warn("link selfie asset", "selfie_id", selfie.ID, "asset_id", asset.ID, "err", err)
		} else {
			selfie.AssetID = asset.ID
		}
	}
	return asset, nil
}

// Fingerprint resolves inputs in parallel and hashes the sorted asset ids.
// Inputs that fail to resolve are logged and left out; an empty fingerprint
// means nothing resolved.
func (r *AssetResolver) Fingerprint(ctx context.Context, inputs []AssetInput) (string, map[string]string) {
	var mu sync.Mutex
	resolved := make(map[string]string, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, in := range inputs {
		g.Go(func() error {
			var (
				asset *models.Asset
				err   error
			)
			if in.Selfie != nil {
				asset, err = r.ResolveSelfie(gctx, in.Selfie)
			} else {
				asset, err = r.ResolveToAsset(gctx, in.RawRef, in.OwnerScope, in.Type)
			}
			if err != nil {
				r.log.Warn("asset resolution skipped", "ref", in.RawRef, "type", in.Type, "err", err)
				return nil
			}
			mu.Lock()
			resolved[in.RawRef] = asset.ID
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(resolved) == 0 {
		return "", resolved
	}
	ids := make([]string, 0, len(resolved))
	for _, id := range resolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:]), resolved
}
