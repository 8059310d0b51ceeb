// Package registry is the authoritative lookup of assets, accounts, members and tags.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mtlprog/fundo/internal/domain"
)

// Repository defines persistent storage for registry entities.
type Repository interface {
	Asset(ctx context.Context, id int64) (domain.Asset, error)
	AssetBySymbol(ctx context.Context, symbol string) (domain.Asset, error)
	ListAssets(ctx context.Context) ([]domain.Asset, error)
	InsertAsset(ctx context.Context, spec domain.AssetSpec) (int64, error)
	SetExternalPriceID(ctx context.Context, id int64, externalID string) error
	AssetReferenced(ctx context.Context, id int64) (bool, error)
	UpdateAssetSymbol(ctx context.Context, id int64, symbol string) error

	Account(ctx context.Context, id int64) (domain.Account, error)
	ListAccounts(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error)
	InsertAccount(ctx context.Context, acc domain.Account) (int64, error)

	Member(ctx context.Context, id int64) (domain.Member, error)
	ListMembers(ctx context.Context) ([]domain.Member, error)
	InsertMember(ctx context.Context, name string, isAdmin bool) (int64, error)

	EnsureTag(ctx context.Context, code, label string) (domain.Tag, error)
	ListTags(ctx context.Context) ([]domain.Tag, error)
}

// Service wraps the repository with the registry's idempotency rules.
type Service struct {
	repo Repository
}

// NewService creates a registry Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnsureAsset returns the id of the asset with the given symbol, inserting it
// on a miss. On a hit it only fills a missing external price id; existing
// metadata is never overwritten.
func (s *Service) EnsureAsset(ctx context.Context, spec domain.AssetSpec) (int64, error) {
	spec.Symbol = domain.NormalizeSymbol(spec.Symbol)
	if spec.Symbol == "" {
		return 0, fmt.Errorf("ensuring asset: empty symbol")
	}
	if spec.Name == "" {
		spec.Name = spec.Symbol
	}

	existing, err := s.repo.AssetBySymbol(ctx, spec.Symbol)
	switch {
	case err == nil:
		if existing.ExternalPriceID == "" && spec.ExternalPriceID != "" {
			if err := s.repo.SetExternalPriceID(ctx, existing.ID, spec.ExternalPriceID); err != nil {
				return 0, fmt.Errorf("filling external price id for %s: %w", spec.Symbol, err)
			}
			slog.Info("registry: filled external price id", "symbol", spec.Symbol, "externalId", spec.ExternalPriceID)
		}
		return existing.ID, nil
	case !errors.Is(err, domain.ErrNotFound):
		return 0, fmt.Errorf("looking up asset %s: %w", spec.Symbol, err)
	}

	id, err := s.repo.InsertAsset(ctx, spec)
	if errors.Is(err, domain.ErrConflict) {
		// lost a race with a concurrent insert of the same symbol
		existing, err := s.repo.AssetBySymbol(ctx, spec.Symbol)
		if err != nil {
			return 0, fmt.Errorf("looking up asset %s after conflict: %w", spec.Symbol, err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inserting asset %s: %w", spec.Symbol, err)
	}
	slog.Info("registry: created asset", "symbol", spec.Symbol, "id", id)
	return id, nil
}

// RenameAsset changes an asset's symbol. Assets are immutable once a
// transaction or price snapshot references them.
func (s *Service) RenameAsset(ctx context.Context, id int64, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	if id == domain.EURAssetID {
		return fmt.Errorf("%w: the base currency cannot be renamed", domain.ErrConflict)
	}
	current, err := s.repo.Asset(ctx, id)
	if err != nil {
		return fmt.Errorf("getting asset %d: %w", id, err)
	}
	if current.Symbol == symbol {
		return nil
	}
	referenced, err := s.repo.AssetReferenced(ctx, id)
	if err != nil {
		return fmt.Errorf("checking references of asset %d: %w", id, err)
	}
	if referenced {
		return fmt.Errorf("%w: asset %s is referenced and cannot change symbol", domain.ErrConflict, current.Symbol)
	}
	if err := s.repo.UpdateAssetSymbol(ctx, id, symbol); err != nil {
		return fmt.Errorf("renaming asset %d: %w", id, err)
	}
	return nil
}

// Asset returns an asset by id. EUR is always answered without a lookup.
func (s *Service) Asset(ctx context.Context, id int64) (domain.Asset, error) {
	if id == domain.EURAssetID {
		return domain.EURAsset(), nil
	}
	return s.repo.Asset(ctx, id)
}

// AssetBySymbol returns an asset by ticker.
func (s *Service) AssetBySymbol(ctx context.Context, symbol string) (domain.Asset, error) {
	return s.repo.AssetBySymbol(ctx, domain.NormalizeSymbol(symbol))
}

// ListAssets returns every registered asset.
func (s *Service) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	return s.repo.ListAssets(ctx)
}

// ListAccounts returns the accounts passing the filter.
func (s *Service) ListAccounts(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx, filter)
}

// Account returns one account.
func (s *Service) Account(ctx context.Context, id int64) (domain.Account, error) {
	return s.repo.Account(ctx, id)
}

// CreateAccount registers a holding location.
func (s *Service) CreateAccount(ctx context.Context, acc domain.Account) (int64, error) {
	if _, err := domain.ParseAccountCategory(string(acc.Category)); err != nil {
		return 0, err
	}
	if acc.Name == "" {
		return 0, fmt.Errorf("creating account: empty name")
	}
	return s.repo.InsertAccount(ctx, acc)
}

// Member returns one member.
func (s *Service) Member(ctx context.Context, id int64) (domain.Member, error) {
	return s.repo.Member(ctx, id)
}

// Members returns every member.
func (s *Service) Members(ctx context.Context) ([]domain.Member, error) {
	return s.repo.ListMembers(ctx)
}

// CreateMember registers a club member.
func (s *Service) CreateMember(ctx context.Context, name string, isAdmin bool) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("creating member: empty name")
	}
	return s.repo.InsertMember(ctx, name, isAdmin)
}

// EnsureTag returns the tag with the given code, creating it when missing.
func (s *Service) EnsureTag(ctx context.Context, code, label string) (domain.Tag, error) {
	if code == "" {
		return domain.Tag{}, fmt.Errorf("ensuring tag: empty code")
	}
	return s.repo.EnsureTag(ctx, code, label)
}

// Tags returns every tag.
func (s *Service) Tags(ctx context.Context) ([]domain.Tag, error) {
	return s.repo.ListTags(ctx)
}
