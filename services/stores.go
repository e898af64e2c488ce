package services

import (
	"errors"
	"fmt"

	"github.com/Scylla34/generous-givers/models"
	"github.com/Scylla34/generous-givers/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DonationStore is the persistence contract for the donation lifecycle:
// create as pending, update once with the provider correlation IDs, then
// transition out of pending exactly once from the callback.
type DonationStore interface {
	CreateDonation(donation *models.Donation) error
	SaveDonation(donation *models.Donation) error
	DonationByCheckoutRequestID(checkoutRequestID string) (*models.Donation, error)
	DonationByMerchantRequestID(merchantRequestID string) (*models.Donation, error)

	// TransitionFromPending writes the donation's status and reconciliation
	// fields only if the stored row is still pending, and reports whether
	// the row was moved. A false return means another delivery of the same
	// callback already settled the donation.
	TransitionFromPending(donation *models.Donation) (bool, error)
}

// ProjectStore is the funds ledger contract.
type ProjectStore interface {
	ProjectByID(id string) (*models.Project, error)
	AddProjectFunds(projectID string, amount float64) error
}

// Store combines the collaborator contracts with a local transaction
// boundary so the callback's status transition and ledger increment commit
// or roll back together.
type Store interface {
	DonationStore
	ProjectStore
	InTransaction(fn func(Store) error) error
}

// GormStore is the MySQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateDonation(donation *models.Donation) error {
	if donation.ID == "" {
		donation.ID = uuid.NewString()
	}
	if err := s.db.Create(donation).Error; err != nil {
		return fmt.Errorf("failed to create donation: %w", err)
	}
	return nil
}

func (s *GormStore) SaveDonation(donation *models.Donation) error {
	if err := s.db.Save(donation).Error; err != nil {
		return fmt.Errorf("failed to save donation: %w", err)
	}
	return nil
}

func (s *GormStore) DonationByCheckoutRequestID(checkoutRequestID string) (*models.Donation, error) {
	var donation models.Donation
	err := s.db.Where("checkout_request_id = ?", checkoutRequestID).First(&donation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

func (s *GormStore) DonationByMerchantRequestID(merchantRequestID string) (*models.Donation, error) {
	var donation models.Donation
	err := s.db.Where("merchant_request_id = ?", merchantRequestID).First(&donation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

func (s *GormStore) TransitionFromPending(donation *models.Donation) (bool, error) {
	// Conditional update: the WHERE clause on status makes concurrent or
	// redelivered callbacks for the same checkout request ID settle the row
	// at most once.
	result := s.db.Model(&models.Donation{}).
		Where("id = ? AND status = ?", donation.ID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":               donation.Status,
			"result_code":          donation.ResultCode,
			"result_desc":          donation.ResultDesc,
			"mpesa_receipt_number": donation.MpesaReceiptNumber,
			"transaction_date":     donation.TransactionDate,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update donation %s: %w", donation.ID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) ProjectByID(id string) (*models.Project, error) {
	var project models.Project
	err := s.db.Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *GormStore) AddProjectFunds(projectID string, amount float64) error {
	// SQL-side increment so concurrent donations to the same project never
	// lose updates.
	result := s.db.Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("funds_raised", gorm.Expr("funds_raised + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to update project %s funds: %w", projectID, result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrProjectNotFound
	}
	return nil
}

func (s *GormStore) InTransaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
