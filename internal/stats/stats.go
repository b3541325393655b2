package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	EventsRouted       = "EventsRouted"
	CommandsDispatched = "CommandsDispatched"
	TallyIncrements    = "TallyIncrements"
	TallyDecrements    = "TallyDecrements"
	StoreRetries       = "StoreRetries"
	StoreFallbacks     = "StoreFallbacks"
	SyncErrors         = "SyncErrors"
	FeedClients        = "FeedClients"
)

// Metrics lists every counter the bot reports.
var Metrics = []string{
	EventsRouted,
	CommandsDispatched,
	TallyIncrements,
	TallyDecrements,
	StoreRetries,
	StoreFallbacks,
	SyncErrors,
	FeedClients,
}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	done       chan struct{}
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(su.Values())
}

// NewStatsUpdater creates a stats updater with every metric in Metrics
// registered and serves them on GET /debug/vars of mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
		vars:       new(expvar.Map).Init(),
	}
	if mux != nil {
		mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	}
	su.initializeMetrics()
	for _, name := range Metrics {
		su.RegisterMetric(name)
	}

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for req := range su.updateChan {
		metric := su.vars.Get(req.name)
		if metric == nil {
			panic("metric not found: " + req.name)
		}

		metric.(*expvar.Int).Add(int64(req.value))
	}
}

// Values decodes the current metric values.
func (su *StatsUpdater) Values() map[string]any {
	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})
	return data
}

func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop closes the update channel and waits for queued updates to be applied.
func (su *StatsUpdater) Stop() {
	close(su.updateChan)
	<-su.done
}

// Discard is a StatsProvider that records nothing.
type Discard struct{}

func (Discard) Incr(string) {}
func (Discard) Decr(string) {}
