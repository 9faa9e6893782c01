package counter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beancounter",
		Subsystem: "loyalty",
		Name:      "orders_recorded_total",
		Help:      "Completed orders appended to spending ledgers.",
	})

	orderAmount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beancounter",
		Subsystem: "loyalty",
		Name:      "order_amount_total",
		Help:      "Sum of recorded order amounts in the smallest currency unit.",
	})

	tierChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beancounter",
		Subsystem: "loyalty",
		Name:      "tier_changes_total",
		Help:      "Tier re-evaluations that changed a customer's tier.",
	}, []string{"from", "to"})

	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beancounter",
		Subsystem: "loyalty",
		Name:      "redemptions_total",
		Help:      "Free-item redemption attempts by outcome.",
	}, []string{"outcome"})

	subscriptionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beancounter",
		Subsystem: "billing",
		Name:      "subscription_transitions_total",
		Help:      "Subscription lifecycle transitions.",
	}, []string{"transition"})

	chargesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beancounter",
		Subsystem: "billing",
		Name:      "charges_submitted_total",
		Help:      "Renewal charges handed to the payment gateway by submission result.",
	}, []string{"result"})

	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beancounter",
		Subsystem: "loyalty",
		Name:      "events_emitted_total",
		Help:      "Events handed to the notifier by type.",
	}, []string{"type"})
)

// AddOrder counts one recorded order and its amount.
func AddOrder(amount int64) {
	ordersRecorded.Inc()
	orderAmount.Add(float64(amount))
}

// AddTierChange counts a tier transition.
func AddTierChange(from, to string) {
	if from == to {
		return
	}
	tierChanges.WithLabelValues(from, to).Inc()
}

// AddRedemption counts a redemption attempt by outcome.
func AddRedemption(outcome string) {
	redemptions.WithLabelValues(outcome).Inc()
}

// AddSubscriptionTransition counts a lifecycle transition such as "activated".
func AddSubscriptionTransition(transition string) {
	subscriptionTransitions.WithLabelValues(transition).Inc()
}

// AddChargeSubmission counts a gateway submission ("accepted" or "rejected").
func AddChargeSubmission(result string) {
	chargesSubmitted.WithLabelValues(result).Inc()
}

// AddEvent counts an event handed to the notifier.
func AddEvent(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}
