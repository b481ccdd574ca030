// Package portstest provides in-memory implementations of ports interfaces
// for tests.
package portstest

import (
	"sync"

	"github.com/Oskimark/snifer-mac/internal/ports"
)

type Event struct {
	Level  string
	Msg    string
	Err    error
	Fields []ports.Field
}

// Obs records every log event and metric update.
type Obs struct {
	mu       sync.Mutex
	events   []Event
	counters map[string]float64
	gauges   map[string]float64
	observed map[string][]float64
	dropped  map[string]int
}

func NewObs() *Obs {
	return &Obs{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		observed: make(map[string][]float64),
		dropped:  make(map[string]int),
	}
}

func (o *Obs) record(level, msg string, err error, fields []ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, Event{Level: level, Msg: msg, Err: err, Fields: fields})
}

func (o *Obs) LogDebug(msg string, fields ...ports.Field) { o.record("debug", msg, nil, fields) }
func (o *Obs) LogInfo(msg string, fields ...ports.Field)  { o.record("info", msg, nil, fields) }
func (o *Obs) LogWarn(msg string, fields ...ports.Field)  { o.record("warn", msg, nil, fields) }

func (o *Obs) LogError(msg string, err error, fields ...ports.Field) {
	o.record("error", msg, err, fields)
}

func (o *Obs) LogCritical(msg string, err error, fields ...ports.Field) {
	o.record("critical", msg, err, fields)
}

func (o *Obs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += v
}

func (o *Obs) ObserveLatency(name string, seconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observed[name] = append(o.observed[name], seconds)
}

func (o *Obs) SetGauge(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gauges[name] = v
}

func (o *Obs) RecordDropped(reason string, records int, err error) {
	o.mu.Lock()
	o.dropped[reason] += records
	o.mu.Unlock()
	o.record("warn", "batch_dropped", err, []ports.Field{{Key: "reason", Value: reason}})
}

func (o *Obs) Counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func (o *Obs) Gauge(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gauges[name]
}

func (o *Obs) Observations(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.observed[name])
}

func (o *Obs) Dropped(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped[reason]
}

// Messages returns the message of every event at level, in order.
func (o *Obs) Messages(level string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, e := range o.events {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

var _ ports.Observability = (*Obs)(nil)
