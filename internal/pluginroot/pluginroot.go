// Package pluginroot is the plugin's load-time singleton (spec.md §4.1): it
// owns the parsed config, the ingestion queue, and the periodic flush tick,
// and constructs a fresh per-stream state machine for every HTTP stream the
// proxy opens. Its lifecycle is create → configure → tick*/create-stream* →
// destroy, exactly the "process-wide state S" spec.md §9 calls for.
package pluginroot

import (
	"github.com/softprobe/sp-istio-wasm-go/internal/backend"
	"github.com/softprobe/sp-istio-wasm-go/internal/filterstream"
	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
	"github.com/softprobe/sp-istio-wasm-go/internal/queue"
	"github.com/softprobe/sp-istio-wasm-go/internal/spconfig"
	"github.com/softprobe/sp-istio-wasm-go/internal/splog"
)

// retryBatch is a popped-but-not-yet-confirmed ingestion batch, held
// outside the queue while its dispatch is in flight or being retried.
// Keeping it out of the queue (rather than pushing it back in) means the
// watermark eviction the queue performs never double-counts a batch that's
// merely waiting on a retry.
type retryBatch struct {
	entries [][]byte
	attempts int
	inFlight bool
}

// Root is the plugin's process-wide singleton.
type Root struct {
	host   hostabi.Host
	log    *splog.Logger
	cfg    *spconfig.Config
	client *backend.Client
	queue  *queue.ByteQueue

	pending *retryBatch
}

// New constructs an uninitialized Root bound to host. Initialize must be
// called before CreateStream or OnTick do anything useful.
func New(host hostabi.Host) *Root {
	return &Root{host: host}
}

// Initialize parses and validates the raw plugin configuration, builds the
// backend client, and registers the periodic flush tick. Any failure here
// is Config-invalid (spec.md §7): the plugin load fails loudly and there is
// no partial initialization — cfg/client/queue are only assigned once every
// step has succeeded.
func (r *Root) Initialize(raw []byte) error {
	bootstrapLog := splog.New(r.host, true)
	cfg, err := spconfig.Load(raw, r.host)
	if err != nil {
		bootstrapLog.Criticalf("config load failed: %v", err)
		return err
	}

	log := splog.New(r.host, cfg.Debug)
	client, err := backend.New(r.host, cfg, log)
	if err != nil {
		log.Criticalf("backend client init failed: %v", err)
		return err
	}

	if err := r.host.SetTickPeriodMilliSeconds(cfg.FlushIntervalMs); err != nil {
		log.Criticalf("failed to register flush tick: %v", err)
		return err
	}

	r.cfg = cfg
	r.log = log
	r.client = client
	r.queue = queue.NewByteQueue(cfg.MaxQueueBytes)
	log.Infof("initialized: direction=%s replay=%v service=%s", cfg.Direction, cfg.ReplayEnabled, cfg.ServiceName)
	return nil
}

// CreateStream constructs a new per-stream state machine, handing it shared
// (read-only) handles to config and the backend client — O(1), no copying
// of rule sets or regexes.
func (r *Root) CreateStream(startUnixNano int64) *filterstream.Stream {
	return filterstream.New(r.host, r.cfg, r.client, r.log, r, startUnixNano)
}

// EnqueueSpan implements filterstream.SpanSink: called by a stream at
// end-of-stream with its already-encoded OTLP bytes (spec.md §4.1).
func (r *Root) EnqueueSpan(encoded []byte) {
	r.queue.Push(encoded)
}

// OnTick drains up to MaxBatchSpans entries from the ingestion queue and
// dispatches one OTLP POST for them (spec.md §4.1). If a batch is already
// in flight or awaiting retry, this tick retries it instead of popping a
// new one — there is only ever one ingestion dispatch outstanding at a
// time, so a "busy" backend never produces two competing attempts at the
// same spans.
func (r *Root) OnTick() {
	if r.queue == nil {
		return // OnTick can fire before Initialize on some hosts' startup ordering
	}
	if r.pending == nil {
		batch := r.queue.PopBatch(r.cfg.MaxBatchSpans)
		if len(batch) == 0 {
			return
		}
		r.pending = &retryBatch{entries: batch}
	} else if r.pending.inFlight {
		return
	}

	dropped := r.queue.DropCount()
	_, err := r.client.Ingest(r.pending.entries, dropped, r.handleIngestResult)
	if err != nil {
		r.log.Errorf("ingestion dispatch submit failed: %v", err)
		r.retryOrDrop()
		return
	}
	r.pending.inFlight = true
}

func (r *Root) handleIngestResult(ok bool) {
	r.pending.inFlight = false
	if ok {
		r.queue.TakeDropCount()
		r.pending = nil
		return
	}
	r.log.Warnf("ingestion batch failed, attempt %d", r.pending.attempts+1)
	r.retryOrDrop()
}

func (r *Root) retryOrDrop() {
	r.pending.attempts++
	if r.pending.attempts >= r.cfg.IngestRetryLimit {
		r.log.Warnf("dropping ingestion batch of %d spans after %d attempts", len(r.pending.entries), r.pending.attempts)
		r.pending = nil
	}
}
