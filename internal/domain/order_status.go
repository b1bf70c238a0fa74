package domain

// Order statuses. The happy path runs top to bottom; the last five are
// terminal failures.
const (
	OrderCreated          = "created"
	OrderAwaitingPayment  = "awaiting_payment"
	OrderPaymentConfirmed = "payment_confirmed"
	OrderReserving        = "reserving"
	OrderReserved         = "reserved"
	OrderFulfilling       = "fulfilling"
	OrderFulfilled        = "fulfilled"

	OrderPaymentFailed     = "payment_failed"
	OrderReservationFailed = "reservation_failed"
	OrderFulfillmentFailed = "fulfillment_failed"
	OrderExpired           = "expired"
	OrderCancelled         = "cancelled"
)

// orderTransitions lists every allowed edge. Admin cancellation is the edge
// to cancelled from each non-terminal state; the single edge leaving a
// terminal state is the manual fulfillment retry.
var orderTransitions = map[string][]string{
	OrderCreated:           {OrderAwaitingPayment, OrderExpired, OrderCancelled},
	OrderAwaitingPayment:   {OrderPaymentConfirmed, OrderPaymentFailed, OrderExpired, OrderCancelled},
	OrderPaymentConfirmed:  {OrderReserving, OrderFulfillmentFailed, OrderCancelled},
	OrderReserving:         {OrderReserved, OrderReservationFailed, OrderFulfillmentFailed, OrderCancelled},
	OrderReserved:          {OrderFulfilling, OrderFulfillmentFailed, OrderExpired, OrderCancelled},
	OrderFulfilling:        {OrderFulfilled, OrderFulfillmentFailed, OrderExpired, OrderCancelled},
	OrderFulfillmentFailed: {OrderFulfilling},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no regular pipeline step leaves status.
func IsTerminal(status string) bool {
	switch status {
	case OrderFulfilled, OrderPaymentFailed, OrderReservationFailed,
		OrderFulfillmentFailed, OrderExpired, OrderCancelled:
		return true
	}
	return false
}

// IsKnownOrderStatus reports whether status is one of the order statuses.
func IsKnownOrderStatus(status string) bool {
	_, ok := orderTransitions[status]
	return ok || IsTerminal(status)
}
