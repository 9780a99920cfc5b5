package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAuditSweepInterval is how often audit retention is enforced when a
// retention is configured.
const DefaultAuditSweepInterval = 10 * time.Minute

// AuditPruner is implemented by audit stores that can drop old events.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// AddAuditPruner registers a pruner to be swept on the configured interval.
func (f *Fleet) AddAuditPruner(pruner AuditPruner) {
	if pruner == nil {
		return
	}
	f.auditPruners = append(f.auditPruners, pruner)
}

// SetAuditRetention sets how long audit events are kept. Zero disables
// the sweeper.
func (f *Fleet) SetAuditRetention(retention time.Duration) {
	f.auditRetention = retention
}

// SetAuditSweepInterval defines how often to sweep. Zero uses
// DefaultAuditSweepInterval.
func (f *Fleet) SetAuditSweepInterval(interval time.Duration) {
	f.auditSweepEvery = interval
}

// SetAuditSweepTimeout defines a per-sweep timeout.
func (f *Fleet) SetAuditSweepTimeout(timeout time.Duration) {
	f.auditSweepTimeout = timeout
}

func (f *Fleet) startAuditSweeper() {
	log := f.logger
	if f.auditRetention <= 0 || len(f.auditPruners) == 0 {
		log.Debug("runtime.audit.sweeper.disabled",
			slog.Duration("retention", f.auditRetention),
			slog.Int("pruners", len(f.auditPruners)),
		)
		return
	}
	if f.auditSweepCancel != nil {
		f.stopAuditSweeper()
	}
	interval := f.auditSweepEvery
	if interval <= 0 {
		interval = DefaultAuditSweepInterval
	}
	initAuditMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.auditSweepCancel = cancel
	f.auditSweepDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Info("runtime.audit.sweeper.start",
			slog.Duration("interval", interval),
			slog.Duration("retention", f.auditRetention),
			slog.Int("pruners", len(f.auditPruners)),
		)
		for {
			select {
			case <-ctx.Done():
				log.Info("runtime.audit.sweeper.stop")
				return
			case <-ticker.C:
				f.sweepAudit(ctx)
			}
		}
	}()
}

func (f *Fleet) sweepAudit(ctx context.Context) {
	log := f.logger
	sweepStart := time.Now()
	sweepCtx := ctx
	var cancel context.CancelFunc
	if f.auditSweepTimeout > 0 {
		sweepCtx, cancel = context.WithTimeout(ctx, f.auditSweepTimeout)
		defer cancel()
	}
	sweepCtx, sweepSpan := otel.Tracer("mmopilot/runtime").Start(sweepCtx, "runtime.audit.sweep",
		trace.WithAttributes(
			attribute.Int("pruners", len(f.auditPruners)),
			attribute.String("retention", f.auditRetention.String()),
		),
	)
	defer sweepSpan.End()
	traceID, spanID := traceIDs(sweepSpan)
	cutoff := time.Now().Add(-f.auditRetention)

	for _, pruner := range f.auditPruners {
		prunerType := prunerName(pruner)
		attrs := metric.WithAttributes(attribute.String("pruner", prunerType))
		start := time.Now()
		removed, err := pruner.Prune(sweepCtx, cutoff)
		durationMs := float64(time.Since(start).Seconds() * 1000)
		sweepCounter.Add(ctx, 1, attrs)
		sweepLatencyMs.Record(ctx, durationMs, attrs)
		if err != nil {
			sweepErrorCounter.Add(ctx, 1, attrs)
			sweepSpan.RecordError(err)
			log.Warn("runtime.audit.prune.error",
				slog.String("pruner", prunerType),
				slog.Float64("duration_ms", durationMs),
				slog.String("trace_id", traceID),
				slog.String("span_id", spanID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if removed > 0 {
			prunedCounter.Add(ctx, int64(removed), attrs)
		}
		log.Debug("runtime.audit.prune",
			slog.String("pruner", prunerType),
			slog.Int("removed", removed),
			slog.Time("before", cutoff),
			slog.Float64("duration_ms", durationMs),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
		)
	}
	sweepTotalLatencyMs.Record(ctx, float64(time.Since(sweepStart).Seconds()*1000))
}

func (f *Fleet) stopAuditSweeper() {
	if f.auditSweepCancel == nil {
		return
	}
	f.auditSweepCancel()
	if f.auditSweepDone != nil {
		<-f.auditSweepDone
	}
	f.auditSweepCancel = nil
	f.auditSweepDone = nil
}

var (
	auditMetricsOnce    sync.Once
	sweepCounter        metric.Int64Counter
	sweepErrorCounter   metric.Int64Counter
	prunedCounter       metric.Int64Counter
	sweepLatencyMs      metric.Float64Histogram
	sweepTotalLatencyMs metric.Float64Histogram
)

func initAuditMetrics() {
	auditMetricsOnce.Do(func() {
		meter := otel.Meter("mmopilot/runtime")
		sweepCounter, _ = meter.Int64Counter("mmopilot.runtime.audit.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("mmopilot.runtime.audit.sweep.error.count")
		prunedCounter, _ = meter.Int64Counter("mmopilot.runtime.audit.pruned.count")
		sweepLatencyMs, _ = meter.Float64Histogram("mmopilot.runtime.audit.sweep.latency_ms")
		sweepTotalLatencyMs, _ = meter.Float64Histogram("mmopilot.runtime.audit.sweep.total_latency_ms")
	})
}

func prunerName(pruner AuditPruner) string {
	if pruner == nil {
		return "unknown"
	}
	return fmt.Sprintf("%T", pruner)
}
