package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-recon/internal/bank"
	"github.com/safar/go-order-recon/internal/database"
	"github.com/safar/go-order-recon/internal/models"
	"github.com/safar/go-order-recon/internal/store"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Items  []struct {
		VariantID int64 `json:"variant_id" binding:"required"`
		Quantity  int   `json:"quantity" binding:"required,gt=0"`
	} `json:"items"`
	PaymentMethod   string          `json:"payment_method" binding:"required"`
	ShippingAddress string          `json:"shipping_address"`
	Discount        decimal.Decimal `json:"discount"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown payment method"})
		return
	}

	items := make([]store.OrderLineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, store.OrderLineRequest{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	order, err := store.CreateOrder(c.Request.Context(), s.db, s.factory, store.CreateOrderRequest{
		UserID:          req.UserID,
		Items:           items,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		Discount:        req.Discount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	s.metrics.OrdersCreated.Inc()
	c.JSON(http.StatusCreated, order)
}

func (s *Server) GetOrder(c *gin.Context) {
	order, err := store.GetOrderByNumber(c.Request.Context(), s.db, c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// BankWebhook is the push reconciliation driver. Once the payload passes
// signature and shape checks it always acknowledges with 200: business
// rejections are logged and recorded, never surfaced as transport errors, so
// the sender does not retry them.
func (s *Server) BankWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if s.webhookSecret != "" {
		signature := c.GetHeader(bank.SignatureHeader)
		if !bank.VerifySignature(s.webhookSecret, body, signature) {
			log.Printf("webhook: invalid signature (request %s)", c.GetString("requestID"))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var notification bank.Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	txn, err := notification.Normalize()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := store.ApplyBankTransaction(c.Request.Context(), s.db, s.matcher, txn)
	if err != nil {
		log.Printf("webhook: apply transaction %s: %v", txn.TransactionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.metrics.Transactions.WithLabelValues("webhook", string(result)).Inc()
	if result != store.Matched {
		log.Printf("webhook: transaction %s not matched: %s", txn.TransactionID, result)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "result": string(result)})
}

type updateStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	Note           string `json:"note"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

func (s *Server) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidOrderStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	order, err := store.GetOrderByNumber(c.Request.Context(), s.db, c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := store.Transition(c.Request.Context(), s.db, order.ID, req.Status, req.Note, &store.TransitionOptions{
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (s *Server) RefundPayment(c *gin.Context) {
	order, err := store.GetOrderByNumber(c.Request.Context(), s.db, c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := store.MarkPaymentRefunded(c.Request.Context(), s.db, order.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "payment marked refunded"})
}

func (s *Server) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := store.ListOrdersCursor(c.Request.Context(), s.db, c.Query("cursor"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

type createVariantRequest struct {
	SKU         string          `json:"sku" binding:"required"`
	ProductName string          `json:"product_name" binding:"required"`
	ProductSlug string          `json:"product_slug" binding:"required"`
	ImageURL    string          `json:"image_url"`
	Attributes  string          `json:"attributes"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

func (s *Server) CreateVariant(c *gin.Context) {
	var req createVariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	variant, err := store.CreateVariant(c.Request.Context(), s.db,
		req.SKU, req.ProductName, req.ProductSlug, req.ImageURL, req.Attributes, req.Price, req.Stock)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, variant)
}

// respondError maps domain errors onto HTTP statuses: validation problems are
// 400, missing records 404, conflicts 409.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrOrderNotFound), errors.Is(err, database.ErrVariantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrAlreadyCancelled),
		errors.Is(err, database.ErrNotPaid),
		errors.Is(err, database.ErrDuplicateSKU):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
