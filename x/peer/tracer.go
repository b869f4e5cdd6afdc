package peer

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("peer")
