package oob

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("oob")
