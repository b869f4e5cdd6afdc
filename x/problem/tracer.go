package problem

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("problem")
