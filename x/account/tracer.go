package account

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("account")
