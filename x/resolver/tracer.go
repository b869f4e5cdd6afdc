package resolver

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("resolver")
