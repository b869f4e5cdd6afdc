package envelope

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("envelope")
