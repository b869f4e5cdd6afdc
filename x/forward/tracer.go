package forward

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("forward")
