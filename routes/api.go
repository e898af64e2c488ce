package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/Scylla34/generous-givers/services"
	"github.com/Scylla34/generous-givers/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

type APIRoutes struct {
	mpesaService *services.MpesaService
	hub          *services.Hub
	shortCode    string
	validate     *validator.Validate
	upgrader     websocket.Upgrader
}

func NewAPIRoutes(mpesaService *services.MpesaService, hub *services.Hub, shortCode string) *APIRoutes {
	return &APIRoutes{
		mpesaService: mpesaService,
		hub:          hub,
		shortCode:    shortCode,
		validate:     validator.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboard clients connect from the frontend origin
			},
		},
	}
}

// SetupRoutes registers the M-Pesa API surface.
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/mpesa")
	{
		api.POST("/stkpush", ar.InitiateStkPush)
		api.POST("/callback", ar.HandleCallback)
		api.GET("/status/:checkoutRequestId", ar.CheckPaymentStatus)
		api.POST("/query", ar.QueryTransaction)
		api.GET("/qr", ar.GenerateQRCode)
	}

	router.GET("/api/ws", ar.WebSocketHandler)
	router.GET("/health", ar.Health)
}

// InitiateStkPush sends an STK push prompt to the donor's phone.
func (ar *APIRoutes) InitiateStkPush(c *gin.Context) {
	var request services.MpesaPaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorMessage": "invalid request body"})
		return
	}
	if err := ar.validate.Struct(request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorMessage": err.Error()})
		return
	}

	log.Printf("Initiating STK Push for phone: %s, amount: %.2f", request.PhoneNumber, request.Amount)

	result, err := ar.mpesaService.InitiatePayment(&request)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, utils.ErrInvalidPhoneNumber),
			errors.Is(err, utils.ErrInvalidAmount),
			errors.Is(err, utils.ErrProjectNotFound):
			status = http.StatusBadRequest
		case errors.Is(err, utils.ErrAuthentication),
			errors.Is(err, utils.ErrProviderTransport):
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"success": false, "errorMessage": err.Error()})
		return
	}

	if result.Failure != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":      false,
			"errorCode":    result.Failure.ErrorCode,
			"errorMessage": result.Failure.ErrorMessage,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             result.Success.Successful(),
		"merchantRequestId":   result.Success.MerchantRequestID,
		"checkoutRequestId":   result.Success.CheckoutRequestID,
		"responseCode":        result.Success.ResponseCode,
		"responseDescription": result.Success.ResponseDescription,
		"customerMessage":     result.Success.CustomerMessage,
	})
}

// HandleCallback receives the asynchronous payment result from Daraja.
// Daraja retries deliveries that are not acknowledged, so the response is a
// success-shaped acknowledgment no matter what happens internally.
func (ar *APIRoutes) HandleCallback(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("Failed to read callback body: %v", err)
		ar.acknowledgeCallback(c)
		return
	}

	log.Printf("Received M-Pesa callback: %s", body)

	var callback services.StkCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		log.Printf("Failed to parse callback JSON: %v, Body: %s", err, body)
		ar.acknowledgeCallback(c)
		return
	}

	if err := ar.mpesaService.ProcessCallback(&callback); err != nil {
		log.Printf("Failed to process M-Pesa callback: %v", err)
	}

	ar.acknowledgeCallback(c)
}

func (ar *APIRoutes) acknowledgeCallback(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ResultCode": "0",
		"ResultDesc": "Callback processed successfully",
	})
}

// CheckPaymentStatus reports the locally recorded state of a push attempt.
func (ar *APIRoutes) CheckPaymentStatus(c *gin.Context) {
	checkoutRequestID := c.Param("checkoutRequestId")

	donation, err := ar.mpesaService.GetDonationByCheckoutRequestID(checkoutRequestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up payment"})
		return
	}
	if donation == nil {
		c.JSON(http.StatusOK, gin.H{"found": false, "message": "Payment not found"})
		return
	}

	result := gin.H{
		"found":              true,
		"status":             donation.Status,
		"amount":             donation.Amount,
		"phoneNumber":        donation.PhoneNumber,
		"mpesaReceiptNumber": donation.MpesaReceiptNumber,
		"resultDesc":         donation.ResultDesc,
	}
	if donation.ProjectID != nil {
		result["projectId"] = *donation.ProjectID
	}

	c.JSON(http.StatusOK, result)
}

// QueryTransaction queries Daraja synchronously and passes the raw provider
// response through.
func (ar *APIRoutes) QueryTransaction(c *gin.Context) {
	var request struct {
		CheckoutRequestID string `json:"checkoutRequestId"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.CheckoutRequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checkoutRequestId is required"})
		return
	}

	response, err := ar.mpesaService.QueryTransactionStatus(request.CheckoutRequestID)
	if err != nil {
		log.Printf("Failed to query transaction: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query transaction"})
		return
	}

	c.Data(http.StatusOK, "application/json", []byte(response))
}

// GenerateQRCode renders a paybill QR code for the manual payment fallback
// on the donate page.
func (ar *APIRoutes) GenerateQRCode(c *gin.Context) {
	account := c.DefaultQuery("account", "GGF")

	content := fmt.Sprintf("M-PESA PayBill %s Account %s", ar.shortCode, account)
	png, err := utils.GenerateQRCode(content)
	if err != nil {
		log.Printf("Failed to generate QR code: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate QR code"})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// WebSocketHandler subscribes a dashboard client to live donation events.
func (ar *APIRoutes) WebSocketHandler(c *gin.Context) {
	conn, err := ar.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	ar.hub.Register(conn)

	// Server push only; drain client frames until the connection drops.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}

	ar.hub.Unregister(conn)
}

// Health reports process liveness.
func (ar *APIRoutes) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
