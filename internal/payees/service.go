package payees

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const connectedAccountPrefix = "acct_"

// Service is the payee verification registry: which connected account a
// vendor is paid to and whether the processor allows payouts to it.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Link(ctx context.Context, actor types.Actor, destinationRef string) (*models.PayoutAccount, error)
	ApplyAccountUpdate(ctx context.Context, update AccountUpdate) (*models.PayoutAccount, error)
	Get(ctx context.Context, vendorID uuid.UUID) (*models.PayoutAccount, error)
	IsVerified(ctx context.Context, vendorID uuid.UUID) (bool, error)
	GetPayoutDestination(ctx context.Context, vendorID uuid.UUID) (string, error)
	FindByDestination(ctx context.Context, destinationRef string) (*models.PayoutAccount, error)
}

// AccountUpdate mirrors the capability flags the processor reports for a connected account.
type AccountUpdate struct {
	DestinationRef   string
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
}

type service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout account repository required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logg: s.logg}
}

// Link registers or replaces the vendor's connected account. Replacing the
// account clears its verification until the processor reports again.
func (s *service) Link(ctx context.Context, actor types.Actor, destinationRef string) (*models.PayoutAccount, error) {
	if actor.Role != enums.ActorRoleVendor || actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only vendors may link payout accounts")
	}
	ref := strings.TrimSpace(destinationRef)
	if !strings.HasPrefix(ref, connectedAccountPrefix) || len(ref) == len(connectedAccountPrefix) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination must be a connected account id").
			WithDetails(map[string]any{"destinationRef": "must start with " + connectedAccountPrefix})
	}

	owner, err := s.repo.FindByDestination(ctx, ref)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.VendorID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "connected account is linked to another vendor")
	}
	if owner != nil {
		return owner, nil
	}

	existing, err := s.repo.FindByVendor(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		account := &models.PayoutAccount{
			ID:             uuid.New(),
			VendorID:       actor.UserID,
			DestinationRef: ref,
		}
		if err := s.repo.Create(ctx, account); err != nil {
			return nil, err
		}
		s.logAccount(ctx, account, "payout account linked")
		return account, nil
	}

	existing.DestinationRef = ref
	existing.DetailsSubmitted = false
	existing.ChargesEnabled = false
	existing.PayoutsEnabled = false
	if err := s.repo.Save(ctx, existing); err != nil {
		return nil, err
	}
	s.logAccount(ctx, existing, "payout account relinked")
	return existing, nil
}

// ApplyAccountUpdate returns nil, nil for accounts no vendor has linked.
func (s *service) ApplyAccountUpdate(ctx context.Context, update AccountUpdate) (*models.PayoutAccount, error) {
	ref := strings.TrimSpace(update.DestinationRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination ref required")
	}
	account, err := s.repo.FindByDestination(ctx, ref)
	if err != nil || account == nil {
		return nil, err
	}
	account.DetailsSubmitted = update.DetailsSubmitted
	account.ChargesEnabled = update.ChargesEnabled
	account.PayoutsEnabled = update.PayoutsEnabled
	if err := s.repo.Save(ctx, account); err != nil {
		return nil, err
	}
	s.logAccount(ctx, account, "payout account updated")
	return account, nil
}

func (s *service) Get(ctx context.Context, vendorID uuid.UUID) (*models.PayoutAccount, error) {
	account, err := s.repo.FindByVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout account not found")
	}
	return account, nil
}

func (s *service) IsVerified(ctx context.Context, vendorID uuid.UUID) (bool, error) {
	account, err := s.repo.FindByVendor(ctx, vendorID)
	if err != nil {
		return false, err
	}
	return account != nil && account.Verified(), nil
}

// GetPayoutDestination fails with PayeeNotVerified unless the vendor can receive transfers.
func (s *service) GetPayoutDestination(ctx context.Context, vendorID uuid.UUID) (string, error) {
	account, err := s.repo.FindByVendor(ctx, vendorID)
	if err != nil {
		return "", err
	}
	if account == nil || !account.Verified() {
		details := map[string]any{"vendorId": vendorID.String(), "linked": account != nil}
		return "", pkgerrors.New(pkgerrors.CodePayeeNotVerified, "vendor payout account is not verified").WithDetails(details)
	}
	return account.DestinationRef, nil
}

func (s *service) FindByDestination(ctx context.Context, destinationRef string) (*models.PayoutAccount, error) {
	return s.repo.FindByDestination(ctx, strings.TrimSpace(destinationRef))
}

func (s *service) logAccount(ctx context.Context, account *models.PayoutAccount, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"vendor_id":       account.VendorID.String(),
		"destination_ref": account.DestinationRef,
		"verified":        account.Verified(),
	})
	s.logg.Info(logCtx, msg)
}
