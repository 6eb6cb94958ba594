// Package metrics defines the Prometheus collectors for the letter
// pipeline. They live in a standalone package so email, recon, and worker
// can all increment them without import cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LettersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "letters_created_total",
		Help: "Letters accepted through POST /api/letters",
	})

	EmailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Emails delivered, by transport provider",
	}, []string{"provider"})

	EmailFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_provider_failures_total",
		Help: "Per-provider send failures, by failure kind",
	}, []string{"provider", "kind"})

	PaymentsConfirmed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Paid transitions owned by this instance, by payment provider",
	}, []string{"provider"})

	PaymentsDuplicate = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_duplicate_total",
		Help: "Webhook deliveries skipped as already-processed, by payment provider",
	}, []string{"provider"})

	SweepLetters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_letters_total",
		Help: "Letters handled by the dispatch sweep, by outcome",
	}, []string{"outcome"})
)

// Register registers all collectors on the given registry (or the default
// if nil). Double registration is tolerated so tests can call it freely.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		LettersCreated, EmailsSent, EmailFailures,
		PaymentsConfirmed, PaymentsDuplicate, SweepLetters,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
