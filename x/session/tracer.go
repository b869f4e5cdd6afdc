package session

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("session")
