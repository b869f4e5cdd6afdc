package didcomm

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("didcomm")
