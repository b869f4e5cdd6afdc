package expiry

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("expiry")
