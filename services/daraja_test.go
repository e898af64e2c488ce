package services

import (
	"encoding/json"
	"testing"
)

func TestDecodeStkPushResult(t *testing.T) {
	t.Run("success body", func(t *testing.T) {
		body := []byte(`{
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResponseCode": "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage": "Success. Request accepted for processing"
		}`)

		result, err := decodeStkPushResult(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success == nil {
			t.Fatal("expected success result")
		}
		if result.Failure != nil {
			t.Error("expected no failure result")
		}
		if result.Success.CheckoutRequestID != "ws_CO_191220191020363925" {
			t.Errorf("unexpected CheckoutRequestID: %s", result.Success.CheckoutRequestID)
		}
		if !result.Success.Successful() {
			t.Error("expected ResponseCode 0 to report successful")
		}
	})

	t.Run("non-zero response code", func(t *testing.T) {
		body := []byte(`{"MerchantRequestID":"1","CheckoutRequestID":"ws_CO_1","ResponseCode":"1","ResponseDescription":"Rejected"}`)

		result, err := decodeStkPushResult(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success == nil {
			t.Fatal("expected success-shaped result")
		}
		if result.Success.Successful() {
			t.Error("expected ResponseCode 1 to report unsuccessful")
		}
	})

	t.Run("error body", func(t *testing.T) {
		body := []byte(`{
			"requestId": "11728-2929992-1",
			"errorCode": "404.001.03",
			"errorMessage": "Invalid Access Token"
		}`)

		result, err := decodeStkPushResult(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Failure == nil {
			t.Fatal("expected failure result")
		}
		if result.Success != nil {
			t.Error("expected no success result")
		}
		if result.Failure.ErrorCode != "404.001.03" {
			t.Errorf("unexpected ErrorCode: %s", result.Failure.ErrorCode)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		if _, err := decodeStkPushResult([]byte("<html>bad gateway</html>")); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestCallbackMetadataValueByName(t *testing.T) {
	payload := []byte(`{
		"Item": [
			{"Name": "Amount", "Value": 500},
			{"Name": "MpesaReceiptNumber", "Value": "QCX123"},
			{"Name": "TransactionDate", "Value": 20240115143022},
			{"Name": "PhoneNumber", "Value": 254712345678}
		]
	}`)

	var metadata CallbackMetadata
	if err := json.Unmarshal(payload, &metadata); err != nil {
		t.Fatalf("failed to unmarshal metadata: %v", err)
	}

	if got := metadata.ValueByName("MpesaReceiptNumber"); got != "QCX123" {
		t.Errorf("MpesaReceiptNumber = %q, want QCX123", got)
	}
	if got := metadata.ValueByName("Amount"); got != "500" {
		t.Errorf("Amount = %q, want 500", got)
	}
	if got := metadata.ValueByName("TransactionDate"); got != "20240115143022" {
		t.Errorf("TransactionDate = %q, want 20240115143022", got)
	}
	if got := metadata.ValueByName("Missing"); got != "" {
		t.Errorf("Missing = %q, want empty", got)
	}

	var nilMetadata *CallbackMetadata
	if got := nilMetadata.ValueByName("Amount"); got != "" {
		t.Errorf("nil metadata lookup = %q, want empty", got)
	}
}
