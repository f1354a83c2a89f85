// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	directionToIRC     = "discord_to_irc"
	directionToDiscord = "irc_to_discord"
)

// Metrics exposes Prometheus collectors that report relay activity.
type Metrics struct {
	relayed      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	commands     *prometheus.CounterVec
	bindings     prometheus.GaugeFunc
}

// MustNewMetrics registers the bridge collectors with reg. bindingCount is
// sampled on every scrape. Registration errors panic, mirroring promauto.
func MustNewMetrics(reg prometheus.Registerer, bindingCount func() int) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irccord",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages relayed, by direction.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irccord",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Messages not relayed, by direction and reason.",
		}, []string{"direction", "reason"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irccord",
			Subsystem: "relay",
			Name:      "send_failures_total",
			Help:      "Outbound sends rejected by the network adapter.",
		}, []string{"direction"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irccord",
			Subsystem: "commands",
			Name:      "processed_total",
			Help:      "Private IRC commands processed, by command name.",
		}, []string{"command"}),
		bindings: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "irccord",
			Name:      "bindings",
			Help:      "Number of live channel bindings.",
		}, func() float64 {
			if bindingCount == nil {
				return 0
			}
			return float64(bindingCount())
		}),
	}
	reg.MustRegister(m.relayed, m.dropped, m.sendFailures, m.commands, m.bindings)
	return m
}

// The recorders below accept a nil receiver so components can run without metrics.

func (m *Metrics) recordRelayed(direction string) {
	if m != nil {
		m.relayed.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) recordDropped(direction, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(direction, reason).Inc()
	}
}

func (m *Metrics) recordSendFailure(direction string) {
	if m != nil {
		m.sendFailures.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) recordCommand(name string) {
	if m != nil {
		m.commands.WithLabelValues(name).Inc()
	}
}
