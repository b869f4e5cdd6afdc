package dispatch

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("dispatch")
