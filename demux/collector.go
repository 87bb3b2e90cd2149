package demux

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "topicbridge_demux"

// Collector is a prometheus.Collector exposing the Stats of registered
// demuxers, labelled by demuxer id and topic pattern.
type Collector struct {
	bytes    *prometheus.Desc
	messages *prometheus.Desc
	streams  *prometheus.Desc
	errors   *prometheus.Desc
	active   *prometheus.Desc

	mu       sync.Mutex
	demuxers map[string]*Demuxer
}

func NewCollector() *Collector {
	labels := []string{"demuxer", "pattern"}
	return &Collector{
		bytes: prometheus.NewDesc(metricsNamespace+"_received_bytes_total",
			"Payload bytes received in the current Started period.", labels, nil),
		messages: prometheus.NewDesc(metricsNamespace+"_received_messages_total",
			"Messages received in the current Started period.", labels, nil),
		streams: prometheus.NewDesc(metricsNamespace+"_streams_created_total",
			"Output streams created in the current Started period.", labels, nil),
		errors: prometheus.NewDesc(metricsNamespace+"_errors_total",
			"Decode, delivery and transport errors in the current Started period.", labels, nil),
		active: prometheus.NewDesc(metricsNamespace+"_active_streams",
			"Output streams currently open.", labels, nil),
		demuxers: make(map[string]*Demuxer),
	}
}

func (c *Collector) Add(d *Demuxer) {
	c.mu.Lock()
	c.demuxers[d.ID()] = d
	c.mu.Unlock()
}

func (c *Collector) Remove(d *Demuxer) {
	c.mu.Lock()
	delete(c.demuxers, d.ID())
	c.mu.Unlock()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.messages
	ch <- c.streams
	ch <- c.errors
	ch <- c.active
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	demuxers := make([]*Demuxer, 0, len(c.demuxers))
	for _, d := range c.demuxers {
		demuxers = append(demuxers, d)
	}
	c.mu.Unlock()

	for _, d := range demuxers {
		s := d.Stats()
		labels := []string{d.ID(), d.Settings().Pattern}
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.BytesReceived), labels...)
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.MessagesReceived), labels...)
		ch <- prometheus.MustNewConstMetric(c.streams, prometheus.CounterValue, float64(s.StreamsCreated), labels...)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors), labels...)
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(len(d.Streams())), labels...)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
