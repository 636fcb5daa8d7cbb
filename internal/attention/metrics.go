package attention

import (
	"context"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mnemo-ai/mnemo/internal/telemetry"
)

var recallMeter = telemetry.Meter("mnemo/attention")

// recordDuration records a duration histogram sample. Instruments are
// created lazily and recording is best-effort.
func recordDuration(ctx context.Context, name string, d time.Duration) {
	hist, err := recallMeter.Float64Histogram(name, otelmetric.WithUnit("ms"))
	if err != nil {
		return
	}
	hist.Record(ctx, float64(d.Milliseconds()))
}
