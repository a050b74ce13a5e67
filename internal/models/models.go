package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is the sellable unit the catalog exposes. The reconciliation core
// only mutates its stock counter; everything else is snapshot source data.
type Variant struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	ProductSlug string          `json:"product_slug"`
	ImageURL    string          `json:"image_url,omitempty"`
	Attributes  string          `json:"attributes,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Order is the root aggregate. BankTransfer is non-nil only when
// PaymentMethod is bank_transfer; a nil sub-record is the only representation
// for every other method, so a cod order can never carry a reservation.
type Order struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"order_number"`
	UserID        int64           `json:"user_id"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`

	ShippingAddress string `json:"shipping_address,omitempty"`

	TrackingNumber     string     `json:"tracking_number,omitempty"`
	Carrier            string     `json:"carrier,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	ShippedAt          *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	// StockReleased guards the one-shot inventory release on cancellation.
	StockReleased bool `json:"-"`

	BankTransfer *BankTransfer  `json:"bank_transfer,omitempty"`
	Items        []OrderItem    `json:"items,omitempty"`
	History      []StatusRecord `json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// BankTransfer carries the reservation and matching state for bank-transfer
// orders. TransactionID is set at most once, ever: it is the idempotency key
// for the external payment.
type BankTransfer struct {
	AccountNumber  string          `json:"account_number,omitempty"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	PaymentCode    string          `json:"payment_code"`
	ReservedUntil  time.Time       `json:"reserved_until"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	PaidAmount     decimal.Decimal `json:"paid_amount,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	BankCode       string          `json:"bank_code,omitempty"`
}

// OrderItem snapshots the variant at order time. The snapshot never changes
// even if the catalog does.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	VariantID   int64           `json:"variant_id"`
	ProductName string          `json:"product_name"`
	ProductSlug string          `json:"product_slug"`
	SKU         string          `json:"sku"`
	ImageURL    string          `json:"image_url,omitempty"`
	Attributes  string          `json:"attributes,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StatusRecord is one entry of the append-only status history.
type StatusRecord struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

const (
	PaymentMethodCOD          = "cod"
	PaymentMethodCreditCard   = "credit_card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodMomo         = "momo"
	PaymentMethodZaloPay      = "zalopay"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
	PaymentStatusExpired  = "expired"
)

func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCreditCard, PaymentMethodBankTransfer,
		PaymentMethodMomo, PaymentMethodZaloPay:
		return true
	}
	return false
}
