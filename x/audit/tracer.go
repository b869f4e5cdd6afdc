package audit

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("audit")
