// Package event defines Event, the immutable description of one
// dispatchable stimulus (spec §3/§4.1).
package event

import "fmt"

// SourceTag identifies which HRE produced an event, and doubles as the
// dispatcher's per-stream namespace (spec §4.5).
type SourceTag string

const (
	SourceHTTP         SourceTag = "http"
	SourceHTTPResponse SourceTag = "http-response"
	SourceInit         SourceTag = "init"
	SourceCron         SourceTag = "cron"
	SourceKV           SourceTag = "kv"
)

// IPFSSource builds the SourceTag for a pub-sub topic stream ("ipfs:<topic>").
func IPFSSource(topic string) SourceTag { return SourceTag("ipfs:" + topic) }

// CardanoSource builds the SourceTag for a chain-follower network stream
// ("cardano:<net>").
func CardanoSource(network string) SourceTag { return SourceTag("cardano:" + network) }

// CronSource builds the SourceTag for one cron tag ("cron:<tag>").
func CronSource(tag string) SourceTag { return SourceTag("cron:" + tag) }

// Target names the application(s) an event is addressed to. An empty
// AppNames slice with All set means "every application with a matching
// subscription".
type Target struct {
	AppNames []string
	All      bool
}

// Ref identifies one event for ParentRef linkage and dispatcher bookkeeping.
type Ref struct {
	SourceTag SourceTag
	StreamKey string
	Seq       uint64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s#%d", r.SourceTag, r.StreamKey, r.Seq)
}

// Event is a single dispatchable stimulus (spec §3).
type Event struct {
	// Identity assigned at enqueue time.
	Seq uint64

	SourceTag     SourceTag
	StreamKey     string // source-defined: topic, network, cron tag, hostname, or "" for init/kv
	Target        Target
	Payload       any
	CorrelationID string // non-empty for request-response events
	ParentRef     *Ref   // non-nil for dependency-ordered sources (e.g. tx -> block)
}

// Ref returns this event's own identity as a Ref, for use as another
// event's ParentRef.
func (e *Event) Ref() Ref {
	return Ref{SourceTag: e.SourceTag, StreamKey: e.StreamKey, Seq: e.Seq}
}

// Correlated reports whether this event expects a reply routed back through
// a Mailbox entry.
func (e *Event) Correlated() bool { return e.CorrelationID != "" }

// BaseTag strips a stream qualifier ("ipfs:<topic>", "cardano:<net>",
// "cron:<tag>") down to the event-schema name a module declares in
// exported_events ("ipfs", "cardano", "cron"). Unqualified tags (http,
// init, kv, http-response) are returned unchanged.
func (s SourceTag) BaseTag() string {
	str := string(s)
	for i := 0; i < len(str); i++ {
		if str[i] == ':' {
			return str[:i]
		}
	}
	return str
}
