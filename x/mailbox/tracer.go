package mailbox

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("mailbox")
