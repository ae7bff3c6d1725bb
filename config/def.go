package config

import (
	"time"
)

// DefaultStorefront returns the default daemon config, rooted under the
// given repo directory.
func DefaultStorefront() *Storefront {
	return &Storefront{
		Store: StoreConfig{
			Path: "pieces.db",
		},
		Objects: ObjectsConfig{
			Root:   "objects",
			Region: "local",
			Group:  "default",
		},
		Queues: QueuesConfig{
			MaxAttempts: 3,
			BackoffMin:  Duration(time.Second),
			BackoffMax:  Duration(time.Minute),
			BufferSize:  1024,
		},
		DeadLetter: DeadLetterConfig{
			Path:          "deadletters",
			Retention:     Duration(14 * 24 * time.Hour),
			SweepInterval: Duration(time.Hour),
		},
		Aggregator: AggregatorConfig{
			Endpoint:    "http://127.0.0.1:8100/rpc/v0",
			CallTimeout: Duration(30 * time.Second),
		},
		Claims: ClaimsConfig{
			Endpoint:    "http://127.0.0.1:8200/rpc/v0",
			CallTimeout: Duration(30 * time.Second),
		},
		Tracker: TrackerConfig{
			Interval:    Duration(5 * time.Minute),
			MinPieceAge: Duration(10 * time.Minute),
			Concurrency: 8,
			PageSize:    100,
		},
		Metrics: MetricsConfig{
			ListenAddress: "127.0.0.1:9090",
		},
		Journal: JournalConfig{
			Path: "",
		},
	}
}
