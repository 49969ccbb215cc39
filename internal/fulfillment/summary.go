package fulfillment

// OrderFulfillment is the derived state handed to callers. It is never stored.
type OrderFulfillment struct {
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
}

// Summarize derives the order state from its lines and payment ledger.
func Summarize(lines []LineProgress, payment PaymentLedger) OrderFulfillment {
	status := payment.Status
	if status == "" {
		status = PaymentPending
	}
	return OrderFulfillment{
		DeliveryStatus: AggregateDelivery(lines),
		ShippingStatus: DeriveShipping(lines),
		PaymentStatus:  status,
	}
}
