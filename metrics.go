// metrics.go: Prometheus metrics for extension resolution
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	FetchesTotal        *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	CacheHitsTotal      *prometheus.CounterVec
	RuntimeFaultsTotal  *prometheus.CounterVec
	ContractMismatches  *prometheus.CounterVec
	ExtensionsLoaded    prometheus.Gauge
	PluginsLoaded       prometheus.Gauge
	AdaptersMounted     prometheus.Gauge
	PollsTotal          *prometheus.CounterVec
	ManifestReloadTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goextensions_container_fetches_total",
				Help: "Total number of container module fetches",
			},
			[]string{"plugin", "result"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goextensions_container_fetch_duration_seconds",
				Help:    "Container module fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goextensions_materializer_cache_hits_total",
				Help: "Total number of materializations served from cache",
			},
			[]string{"plugin"},
		),
		RuntimeFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goextensions_runtime_faults_total",
				Help: "Total number of runtime faults raised by extension code",
			},
			[]string{"plugin"},
		),
		ContractMismatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goextensions_contract_mismatches_total",
				Help: "Total number of records excluded for not matching their contract",
			},
			[]string{"type"},
		),
		ExtensionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goextensions_extensions_loaded",
			Help: "Number of extension records in the store",
		}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goextensions_plugins_loaded",
			Help: "Number of loaded plugins",
		}),
		AdaptersMounted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goextensions_bridge_adapters_mounted",
			Help: "Number of mounted state bridge adapters",
		}),
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goextensions_status_polls_total",
				Help: "Total number of status poller invocations",
			},
			[]string{"status"},
		),
		ManifestReloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goextensions_manifest_reloads_total",
				Help: "Total number of manifest reloads triggered by file changes",
			},
			[]string{"result"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.FetchesTotal,
			m.FetchDuration,
			m.CacheHitsTotal,
			m.RuntimeFaultsTotal,
			m.ContractMismatches,
			m.ExtensionsLoaded,
			m.PluginsLoaded,
			m.AdaptersMounted,
			m.PollsTotal,
			m.ManifestReloadTotal,
		)
	}
	return m
}

func (m *Metrics) recordFetch(plugin string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.FetchesTotal.WithLabelValues(plugin, result).Inc()
	m.FetchDuration.WithLabelValues(plugin).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordCacheHit(plugin string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(plugin).Inc()
}

func (m *Metrics) recordRuntimeFault(plugin string) {
	if m == nil {
		return
	}
	m.RuntimeFaultsTotal.WithLabelValues(plugin).Inc()
}

func (m *Metrics) recordContractMismatch(extensionType string) {
	if m == nil {
		return
	}
	m.ContractMismatches.WithLabelValues(extensionType).Inc()
}

func (m *Metrics) setStoreSize(plugins, extensions int) {
	if m == nil {
		return
	}
	m.PluginsLoaded.Set(float64(plugins))
	m.ExtensionsLoaded.Set(float64(extensions))
}

func (m *Metrics) addAdapters(delta int) {
	if m == nil {
		return
	}
	m.AdaptersMounted.Add(float64(delta))
}

func (m *Metrics) recordPoll(status string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(status).Inc()
}

// recordManifestReload counts a manifest change by outcome: success,
// deleted, invalid or error.
func (m *Metrics) recordManifestReload(result string) {
	if m == nil {
		return
	}
	m.ManifestReloadTotal.WithLabelValues(result).Inc()
}
