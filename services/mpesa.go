package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Scylla34/generous-givers/models"
	"github.com/Scylla34/generous-givers/utils"
)

// Daraja timestamp format (yyyyMMddHHmmss).
const timestampFormat = "20060102150405"

// MpesaPaymentRequest is the donor-facing STK push request.
type MpesaPaymentRequest struct {
	PhoneNumber      string  `json:"phoneNumber" validate:"required"`
	Amount           float64 `json:"amount" validate:"required,gt=0"`
	DonorName        string  `json:"donorName"`
	Email            string  `json:"email" validate:"omitempty,email"`
	ProjectID        *string `json:"projectId"`
	AccountReference string  `json:"accountReference"`
}

// MpesaService drives the STK push payment lifecycle: initiation, callback
// reconciliation, and on-demand status queries against Daraja.
type MpesaService struct {
	config     MpesaConfig
	store      Store
	notifier   Notifier
	httpClient *http.Client
}

func NewMpesaService(config MpesaConfig, store Store, notifier Notifier) *MpesaService {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			MaxConnsPerHost:       100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 30 * time.Second,
	}

	return &MpesaService{
		config:     config,
		store:      store,
		notifier:   notifier,
		httpClient: httpClient,
	}
}

// GetAccessToken exchanges the consumer key and secret for an OAuth bearer
// token at the Daraja token endpoint.
func (s *MpesaService) GetAccessToken() (string, error) {
	req, err := http.NewRequest("GET", s.config.OAuthURL(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrAuthentication, err)
	}
	req.SetBasicAuth(s.config.ConsumerKey, s.config.ConsumerSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("Failed to get M-Pesa OAuth token: %v", err)
		return "", fmt.Errorf("%w: %v", utils.ErrAuthentication, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrAuthentication, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("M-Pesa OAuth returned status %d: %s", resp.StatusCode, body)
		return "", fmt.Errorf("%w: status %d", utils.ErrAuthentication, resp.StatusCode)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrAuthentication, err)
	}
	if auth.AccessToken == "" {
		return "", utils.ErrAuthentication
	}

	log.Printf("M-Pesa OAuth token obtained successfully")
	return auth.AccessToken, nil
}

// generatePassword derives the request password Daraja expects:
// base64(shortCode + passkey + timestamp).
func (s *MpesaService) generatePassword(timestamp string) string {
	rawPassword := s.config.ShortCode + s.config.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(rawPassword))
}

// InitiatePayment creates a pending donation and sends the STK push for it.
// The pending record is written before the push so a record exists even if
// the network call fails; a transport failure flips it to failed rather
// than deleting it.
func (s *MpesaService) InitiatePayment(paymentRequest *MpesaPaymentRequest) (*StkPushResult, error) {
	if paymentRequest.Amount <= 0 {
		return nil, utils.ErrInvalidAmount
	}
	if !utils.ValidPhoneNumber(paymentRequest.PhoneNumber) {
		return nil, utils.ErrInvalidPhoneNumber
	}
	if paymentRequest.ProjectID != nil {
		if _, err := s.store.ProjectByID(*paymentRequest.ProjectID); err != nil {
			return nil, err
		}
	}

	timestamp := time.Now().Format(timestampFormat)
	password := s.generatePassword(timestamp)

	accessToken, err := s.GetAccessToken()
	if err != nil {
		return nil, err
	}

	phone := utils.NormalizePhoneNumber(paymentRequest.PhoneNumber)
	donation := &models.Donation{
		DonorName:   paymentRequest.DonorName,
		Email:       paymentRequest.Email,
		PhoneNumber: phone,
		Amount:      paymentRequest.Amount,
		Method:      "M-PESA",
		Status:      models.StatusPending,
		ProjectID:   paymentRequest.ProjectID,
		Date:        time.Now(),
	}
	if err := s.store.CreateDonation(donation); err != nil {
		return nil, err
	}

	accountRef := paymentRequest.AccountReference
	if accountRef == "" {
		accountRef = "GGF-" + strings.ToUpper(donation.ID[:8])
	}

	stkRequest := StkPushRequest{
		BusinessShortCode: s.config.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            fmt.Sprintf("%d", int64(math.Round(paymentRequest.Amount))),
		PartyA:            phone,
		PartyB:            s.config.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       s.config.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   "Donation to Generous Givers Family",
	}

	result, err := s.sendStkPush(stkRequest, accessToken)
	if err != nil {
		log.Printf("STK Push failed: %v", err)
		donation.Status = models.StatusFailed
		donation.ResultDesc = "STK Push initiation failed: " + err.Error()
		if saveErr := s.store.SaveDonation(donation); saveErr != nil {
			log.Printf("Failed to record STK push failure on donation %s: %v", donation.ID, saveErr)
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrProviderTransport, err)
	}

	if result.Failure != nil {
		log.Printf("STK Push rejected: %s (%s)", result.Failure.ErrorMessage, result.Failure.ErrorCode)
		donation.Status = models.StatusFailed
		donation.ResultDesc = "STK Push rejected: " + result.Failure.ErrorMessage
		if saveErr := s.store.SaveDonation(donation); saveErr != nil {
			log.Printf("Failed to record STK push rejection on donation %s: %v", donation.ID, saveErr)
		}
		return result, nil
	}

	donation.MerchantRequestID = result.Success.MerchantRequestID
	donation.CheckoutRequestID = &result.Success.CheckoutRequestID
	if err := s.store.SaveDonation(donation); err != nil {
		return nil, err
	}

	log.Printf("STK Push initiated successfully. CheckoutRequestID: %s", result.Success.CheckoutRequestID)
	return result, nil
}

func (s *MpesaService) sendStkPush(stkRequest StkPushRequest, accessToken string) (*StkPushResult, error) {
	payload, err := json.Marshal(stkRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal STK push request: %v", err)
	}

	req, err := http.NewRequest("POST", s.config.StkPushURL(), bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	result, err := decodeStkPushResult(body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("STK push returned status %d: %s", resp.StatusCode, body)
	}
	return result, nil
}

// ProcessCallback reconciles a donation with the result Daraja posted back.
// Unknown checkout request IDs are logged and ignored; the HTTP layer must
// acknowledge the provider either way.
func (s *MpesaService) ProcessCallback(callback *StkCallback) error {
	content := callback.Body.StkCallback

	log.Printf("Processing M-Pesa callback. CheckoutRequestID: %s, ResultCode: %d",
		content.CheckoutRequestID, content.ResultCode)

	donation, err := s.store.DonationByCheckoutRequestID(content.CheckoutRequestID)
	if err != nil {
		return err
	}
	if donation == nil {
		log.Printf("No donation found for CheckoutRequestID: %s", content.CheckoutRequestID)
		return nil
	}

	resultCode := content.ResultCode
	donation.ResultCode = &resultCode
	donation.ResultDesc = content.ResultDesc

	if content.Successful() {
		metadata := content.CallbackMetadata
		donation.MpesaReceiptNumber = metadata.ValueByName("MpesaReceiptNumber")

		if dateStr := metadata.ValueByName("TransactionDate"); dateStr != "" {
			if transactionDate, err := time.ParseInLocation(timestampFormat, dateStr, time.Local); err == nil {
				donation.TransactionDate = &transactionDate
			} else {
				log.Printf("Failed to parse transaction date: %s", dateStr)
			}
		}

		if paidStr := metadata.ValueByName("Amount"); paidStr != "" {
			if paid, err := strconv.ParseFloat(paidStr, 64); err == nil && paid != donation.Amount {
				log.Printf("Amount mismatch. Expected: %.2f, Received: %.2f", donation.Amount, paid)
			}
		}

		donation.Status = models.StatusCompleted

		settled := false
		err := s.store.InTransaction(func(tx Store) error {
			moved, err := tx.TransitionFromPending(donation)
			if err != nil {
				return err
			}
			if !moved {
				return nil
			}
			settled = true
			if donation.ProjectID != nil {
				if err := tx.AddProjectFunds(*donation.ProjectID, donation.Amount); err != nil {
					return err
				}
				log.Printf("Updated project %s funds by %.2f", *donation.ProjectID, donation.Amount)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !settled {
			log.Printf("Donation %s already settled, ignoring duplicate callback", donation.ID)
			return nil
		}

		log.Printf("Donation %s completed successfully. Receipt: %s", donation.ID, donation.MpesaReceiptNumber)
		s.notifier.DonationCompleted(donation.DonorName, donation.Amount, donation.MpesaReceiptNumber, donation.ID)
		return nil
	}

	donation.Status = models.StatusFailed
	moved, err := s.store.TransitionFromPending(donation)
	if err != nil {
		return err
	}
	if !moved {
		log.Printf("Donation %s already settled, ignoring duplicate callback", donation.ID)
		return nil
	}

	log.Printf("Donation %s failed. Reason: %s", donation.ID, content.ResultDesc)
	s.notifier.DonationFailed(donation.DonorName, donation.Amount, content.ResultDesc)
	return nil
}

// QueryTransactionStatus asks Daraja for the current state of a push
// attempt and returns the raw response body. It never mutates local state.
func (s *MpesaService) QueryTransactionStatus(checkoutRequestID string) (string, error) {
	timestamp := time.Now().Format(timestampFormat)
	password := s.generatePassword(timestamp)

	accessToken, err := s.GetAccessToken()
	if err != nil {
		return "", err
	}

	queryRequest := StkQueryRequest{
		BusinessShortCode: s.config.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}
	payload, err := json.Marshal(queryRequest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrProviderTransport, err)
	}

	req, err := http.NewRequest("POST", s.config.StkQueryURL(), bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrProviderTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("Failed to query transaction status: %v", err)
		return "", fmt.Errorf("%w: %v", utils.ErrProviderTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrProviderTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", utils.ErrProviderTransport, resp.StatusCode, body)
	}

	return string(body), nil
}

// GetDonationByCheckoutRequestID returns the local donation record for a
// push attempt, or nil when none exists.
func (s *MpesaService) GetDonationByCheckoutRequestID(checkoutRequestID string) (*models.Donation, error) {
	return s.store.DonationByCheckoutRequestID(checkoutRequestID)
}
