// Package metrics keeps lightweight in-process counters for the agent's
// cycles, transaction outcomes and HTTP traffic, exposed in Prometheus
// text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type cycleKey struct {
	source string
	status string
}

type txKey struct {
	state string
}

type requestKey struct {
	handler string
	method  string
	code    string
}

type latencyKey struct {
	handler string
	method  string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu           sync.Mutex
	cycles       map[cycleKey]uint64
	transactions map[txKey]uint64
	requests     map[requestKey]uint64
	latency      map[latencyKey]*histogram
}

var defaultCollector = &collector{
	cycles:       make(map[cycleKey]uint64),
	transactions: make(map[txKey]uint64),
	requests:     make(map[requestKey]uint64),
	latency:      make(map[latencyKey]*histogram),
}

// ObserveCycle records the outcome of one agent cycle.
func ObserveCycle(source string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	defaultCollector.mu.Lock()
	defaultCollector.cycles[cycleKey{source: source, status: status}]++
	defaultCollector.mu.Unlock()
}

// ObserveTransaction records the terminal state of one driven transaction.
func ObserveTransaction(state string) {
	defaultCollector.mu.Lock()
	defaultCollector.transactions[txKey{state: state}]++
	defaultCollector.mu.Unlock()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()

	reqKey := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	defaultCollector.requests[reqKey]++

	latKey := latencyKey{handler: handler, method: method}
	hist := defaultCollector.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		defaultCollector.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	type cycleMetric struct {
		cycleKey
		value uint64
	}
	cycles := make([]cycleMetric, 0, len(c.cycles))
	for key, value := range c.cycles {
		cycles = append(cycles, cycleMetric{cycleKey: key, value: value})
	}
	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i].source == cycles[j].source {
			return cycles[i].status < cycles[j].status
		}
		return cycles[i].source < cycles[j].source
	})
	builder.WriteString("# HELP stakepilot_cycles_total Total number of agent cycles executed.\n")
	builder.WriteString("# TYPE stakepilot_cycles_total counter\n")
	for _, metric := range cycles {
		builder.WriteString(fmt.Sprintf("stakepilot_cycles_total{source=%q,status=%q} %d\n",
			escape(metric.source), escape(metric.status), metric.value))
	}

	type txMetric struct {
		txKey
		value uint64
	}
	txs := make([]txMetric, 0, len(c.transactions))
	for key, value := range c.transactions {
		txs = append(txs, txMetric{txKey: key, value: value})
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].state < txs[j].state })
	builder.WriteString("# HELP stakepilot_transactions_total Terminal states of driven transactions.\n")
	builder.WriteString("# TYPE stakepilot_transactions_total counter\n")
	for _, metric := range txs {
		builder.WriteString(fmt.Sprintf("stakepilot_transactions_total{state=%q} %d\n",
			escape(metric.state), metric.value))
	}

	type requestMetric struct {
		requestKey
		value uint64
	}
	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler == reqs[j].handler {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].handler < reqs[j].handler
	})
	builder.WriteString("# HELP stakepilot_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE stakepilot_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("stakepilot_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			escape(metric.handler), escape(metric.method), escape(metric.code), metric.value))
	}

	type latencyMetric struct {
		latencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			latencyKey: key,
			buckets:    append([]float64(nil), hist.buckets...),
			counts:     append([]uint64(nil), hist.counts...),
			sum:        hist.sum,
			count:      hist.count,
		})
	}
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].handler == lats[j].handler {
			return lats[i].method < lats[j].method
		}
		return lats[i].handler < lats[j].handler
	})
	builder.WriteString("# HELP stakepilot_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE stakepilot_http_request_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("stakepilot_http_request_duration_seconds_bucket{handler=%q,method=%q,le=%q} %d\n",
				escape(metric.handler), escape(metric.method), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("stakepilot_http_request_duration_seconds_bucket{handler=%q,method=%q,le=\"+Inf\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
		builder.WriteString(fmt.Sprintf("stakepilot_http_request_duration_seconds_sum{handler=%q,method=%q} %s\n",
			escape(metric.handler), escape(metric.method), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("stakepilot_http_request_duration_seconds_count{handler=%q,method=%q} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
