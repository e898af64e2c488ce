package services

import (
	"encoding/json"
	"fmt"
)

// MpesaConfig holds the Daraja credentials and endpoint configuration.
type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	BaseURL        string
}

func (c MpesaConfig) OAuthURL() string {
	return c.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
}

func (c MpesaConfig) StkPushURL() string {
	return c.BaseURL + "/mpesa/stkpush/v1/processrequest"
}

func (c MpesaConfig) StkQueryURL() string {
	return c.BaseURL + "/mpesa/stkpushquery/v1/query"
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// StkPushRequest is the Daraja STK push request body. Amount is a whole
// number string per Daraja convention.
type StkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// StkPushSuccess is the acknowledgment Daraja returns when it accepted the
// push and prompted the customer's phone.
type StkPushSuccess struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Successful reports whether Daraja accepted the push request.
func (s StkPushSuccess) Successful() bool {
	return s.ResponseCode == "0"
}

// StkPushFailure is the error-shaped body Daraja returns when the push
// request itself was rejected.
type StkPushFailure struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// StkPushResult is the push response. Daraja answers with either a success
// body or an error body in the same position, so exactly one of the two
// fields is set.
type StkPushResult struct {
	Success *StkPushSuccess
	Failure *StkPushFailure
}

// decodeStkPushResult splits Daraja's polymorphic push response into its
// success or failure shape.
func decodeStkPushResult(body []byte) (*StkPushResult, error) {
	var raw struct {
		StkPushSuccess
		StkPushFailure
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode STK push response: %w, body: %s", err, body)
	}

	if raw.ErrorCode != "" || (raw.CheckoutRequestID == "" && raw.ErrorMessage != "") {
		failure := raw.StkPushFailure
		return &StkPushResult{Failure: &failure}, nil
	}
	success := raw.StkPushSuccess
	return &StkPushResult{Success: &success}, nil
}

// StkCallback is the envelope Daraja posts to our callback URL.
type StkCallback struct {
	Body struct {
		StkCallback StkCallbackContent `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallbackContent struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata"`
}

// Successful reports whether the customer completed the payment.
func (c StkCallbackContent) Successful() bool {
	return c.ResultCode == 0
}

// CallbackMetadata is only present on successful payments. Values are
// untyped in the wire format (receipt numbers are strings, amounts and
// dates are numbers).
type CallbackMetadata struct {
	Items []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// ValueByName returns the named metadata value as a string, or "" when
// absent.
func (m *CallbackMetadata) ValueByName(name string) string {
	if m == nil {
		return ""
	}
	for _, item := range m.Items {
		if item.Name != name || item.Value == nil {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v
		case float64:
			// JSON numbers decode as float64; dates and amounts arrive as
			// integers like 20240115143022 and 500.
			return formatWholeNumber(v)
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func formatWholeNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%v", v)
}

// StkQueryRequest is the synchronous transaction status query body.
type StkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}
