// Package rabbit consumes checkout-completed events from the cart service
// and converts them into orders. The synchronous HTTP endpoint remains the
// authoritative path; this consumer exists so a storefront checkout does not
// block on order creation.
package rabbit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/safar/go-order-recon/internal/metrics"
	"github.com/safar/go-order-recon/internal/store"
	"github.com/shopspring/decimal"
)

const (
	checkoutExchange = "checkout_completed"
	checkoutQueue    = "order_recon_checkouts"
)

type CheckoutConsumer struct {
	db      *sql.DB
	factory store.FactoryConfig
	metrics *metrics.ReconMetrics
}

func NewCheckoutConsumer(db *sql.DB, factory store.FactoryConfig, m *metrics.ReconMetrics) *CheckoutConsumer {
	return &CheckoutConsumer{db: db, factory: factory, metrics: m}
}

type checkoutMessage struct {
	CorrelationID string `json:"correlation_id"`
	UserID        int64  `json:"user_id"`
	Items         []struct {
		VariantID int64 `json:"variant_id"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress string          `json:"shipping_address"`
	Discount        decimal.Decimal `json:"discount"`
}

// SetupConsumer declares the queue, binds it to the checkout fanout exchange
// and starts consuming. Malformed or failing messages are logged and dropped;
// the checkout flow has its own retry surface.
func SetupConsumer(ch *amqp091.Channel, consumer *CheckoutConsumer) error {
	if err := ch.ExchangeDeclare(checkoutExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(checkoutQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}

	if err := ch.QueueBind(q.Name, "", checkoutExchange, false, nil); err != nil {
		return err
	}

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for m := range msgs {
			consumer.Handle(m.Body)
		}
	}()

	log.Printf("rabbit: consuming checkout events from %s", checkoutExchange)
	return nil
}

func (c *CheckoutConsumer) Handle(body []byte) {
	var msg checkoutMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Printf("rabbit: malformed checkout message: %v", err)
		return
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}

	items := make([]store.OrderLineRequest, 0, len(msg.Items))
	for _, item := range msg.Items {
		items = append(items, store.OrderLineRequest{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	order, err := store.CreateOrder(context.Background(), c.db, c.factory, store.CreateOrderRequest{
		UserID:          msg.UserID,
		Items:           items,
		PaymentMethod:   msg.PaymentMethod,
		ShippingAddress: msg.ShippingAddress,
		Discount:        msg.Discount,
	})
	if err != nil {
		log.Printf("rabbit: create order (checkout %s): %v", msg.CorrelationID, err)
		return
	}

	c.metrics.OrdersCreated.Inc()
	log.Printf("rabbit: created order %s (checkout %s)", order.OrderNumber, msg.CorrelationID)
}
