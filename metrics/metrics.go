package metrics

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8,
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
	200, 300, 400, 500, 600, 800, 1000, 1500, 2000, 3000, 5000,
	10000, 20000, 50000, 100_000, 250_000, 500_000,
)

// Tags
var (
	Version, _ = tag.NewKey("version")
	Commit, _  = tag.NewKey("commit")

	Queue, _       = tag.NewKey("queue")
	PieceStatus, _ = tag.NewKey("piece_status")
	FailureType, _ = tag.NewKey("failure_type")
)

// Measures
var (
	PiecesSubmitted     = stats.Int64("pieces/submitted", "Counter for pieces inserted in submitted state", stats.UnitDimensionless)
	PiecesDuplicate     = stats.Int64("pieces/duplicate", "Counter for duplicate piece submissions (no-op inserts)", stats.UnitDimensionless)
	PiecesResolved      = stats.Int64("pieces/resolved", "Counter for pieces moved to a terminal status", stats.UnitDimensionless)
	OffersSent          = stats.Int64("offers/sent", "Counter for piece offers sent to the aggregator", stats.UnitDimensionless)
	OfferFailures       = stats.Int64("offers/failures", "Counter for failed piece offers", stats.UnitDimensionless)
	ClaimsIssued        = stats.Int64("claims/issued", "Counter for content claims issued", stats.UnitDimensionless)
	ReceiptsEmitted     = stats.Int64("receipts/emitted", "Counter for terminal receipts emitted", stats.UnitDimensionless)
	MessagesHandled     = stats.Int64("mq/handled", "Counter for successfully handled queue messages", stats.UnitDimensionless)
	MessagesRetried     = stats.Int64("mq/retried", "Counter for queue message redeliveries", stats.UnitDimensionless)
	MessagesDeadLetter  = stats.Int64("mq/deadletter", "Counter for messages moved to a dead letter sink", stats.UnitDimensionless)
	TrackerTicks        = stats.Int64("tracker/ticks", "Counter for deal tracker ticks", stats.UnitDimensionless)
	TrackerTickDuration = stats.Float64("tracker/tick_ms", "Duration of deal tracker ticks", stats.UnitMilliseconds)
	TrackerItemFailures = stats.Int64("tracker/item_failures", "Counter for per-piece failures inside a tracker tick", stats.UnitDimensionless)
)

// Views
var (
	PiecesSubmittedView = &view.View{
		Measure:     PiecesSubmitted,
		Aggregation: view.Count(),
	}
	PiecesDuplicateView = &view.View{
		Measure:     PiecesDuplicate,
		Aggregation: view.Count(),
	}
	PiecesResolvedView = &view.View{
		Measure:     PiecesResolved,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{PieceStatus},
	}
	OffersSentView = &view.View{
		Measure:     OffersSent,
		Aggregation: view.Count(),
	}
	OfferFailuresView = &view.View{
		Measure:     OfferFailures,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{FailureType},
	}
	ClaimsIssuedView = &view.View{
		Measure:     ClaimsIssued,
		Aggregation: view.Count(),
	}
	ReceiptsEmittedView = &view.View{
		Measure:     ReceiptsEmitted,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{PieceStatus},
	}
	MessagesHandledView = &view.View{
		Measure:     MessagesHandled,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Queue},
	}
	MessagesRetriedView = &view.View{
		Measure:     MessagesRetried,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Queue},
	}
	MessagesDeadLetterView = &view.View{
		Measure:     MessagesDeadLetter,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Queue},
	}
	TrackerTicksView = &view.View{
		Measure:     TrackerTicks,
		Aggregation: view.Count(),
	}
	TrackerTickDurationView = &view.View{
		Measure:     TrackerTickDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	TrackerItemFailuresView = &view.View{
		Measure:     TrackerItemFailures,
		Aggregation: view.Count(),
	}
)

// DefaultViews is the set of views registered by the daemon.
var DefaultViews = []*view.View{
	PiecesSubmittedView,
	PiecesDuplicateView,
	PiecesResolvedView,
	OffersSentView,
	OfferFailuresView,
	ClaimsIssuedView,
	ReceiptsEmittedView,
	MessagesHandledView,
	MessagesRetriedView,
	MessagesDeadLetterView,
	TrackerTicksView,
	TrackerTickDurationView,
	TrackerItemFailuresView,
}
