package config

import (
	"encoding"
	"time"
)

// Storefront is the daemon configuration. Everything the handlers and the
// tracker need is enumerated here and passed at construction; nothing is
// pulled from the process environment.
type Storefront struct {
	Store      StoreConfig
	Objects    ObjectsConfig
	Queues     QueuesConfig
	DeadLetter DeadLetterConfig
	Aggregator AggregatorConfig
	Claims     ClaimsConfig
	Tracker    TrackerConfig
	Metrics    MetricsConfig
	Journal    JournalConfig
}

type StoreConfig struct {
	// Path of the piece store database file.
	Path string
}

type ObjectsConfig struct {
	// Root directory of the object store, watched for new .car objects.
	Root string
	// Region recorded on object-written events.
	Region string
	// Group is the owning tenant recorded on every piece.
	Group string
	// TrustClientPiece disables piece commitment compute and accepts
	// event-provided piece CIDs after format validation.
	TrustClientPiece bool
}

type QueuesConfig struct {
	// MaxAttempts is the redelivery budget per message, on top of the first
	// delivery.
	MaxAttempts int
	BackoffMin  Duration
	BackoffMax  Duration
	BufferSize  int
}

type DeadLetterConfig struct {
	// Path of the dead letter leveldb directory.
	Path string
	// Retention is how long dead letters are kept for manual replay.
	Retention Duration
	// SweepInterval is how often expired dead letters are removed.
	SweepInterval Duration
}

type AggregatorConfig struct {
	// Endpoint of the aggregation service jsonrpc API.
	Endpoint string
	// Proof is the capability proof presented with piece offers.
	Proof string
	// CallTimeout bounds every aggregator call.
	CallTimeout Duration
}

type ClaimsConfig struct {
	// Endpoint of the claim/receipt service jsonrpc API.
	Endpoint    string
	CallTimeout Duration
}

type TrackerConfig struct {
	Interval    Duration
	MinPieceAge Duration
	Concurrency int
	PageSize    int
}

type MetricsConfig struct {
	// ListenAddress of the prometheus metrics endpoint; empty disables it.
	ListenAddress string
}

type JournalConfig struct {
	// Path under which the journal directory is created; empty disables
	// journaling.
	Path string
	// DisabledEvents is a comma-separated list of system:event signatures to
	// suppress.
	DisabledEvents string
}

var (
	_ = encoding.TextMarshaler(new(Duration))
	_ = encoding.TextUnmarshaler(new(Duration))
)

// Duration is a wrapper type for time.Duration for decoding and encoding from
// and to TOML.
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding.
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return nil
}

// MarshalText implements interface for TOML encoding.
func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
