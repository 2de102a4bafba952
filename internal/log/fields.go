package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldGroupID       = "group_id"
	FieldAccountID     = "account_id"
	FieldCardID        = "card_id"
	FieldHorizonDays   = "horizon_days"
	FieldReferenceDate = "reference_date"
	FieldSchemaVersion = "schema_version"
	FieldProgressed    = "progressed_cards"
	FieldCleaned       = "cleaned_statements"
	FieldAmountCents   = "amount_cents"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentProjection  = "projection"
	ComponentProgression = "progression"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
)

// Operations defines standard operation names
const (
	OpProject    = "project"
	OpProgress   = "progress"
	OpCleanup    = "cleanup"
	OpSnapshot   = "snapshot"
	OpInvalidate = "invalidate"
	OpConsume    = "consume"
	OpPublish    = "publish"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithGroup adds the owning group identifier
func (f LogFields) WithGroup(groupID string) LogFields {
	f[FieldGroupID] = groupID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithProjection adds projection run fields
func (f LogFields) WithProjection(horizonDays int, referenceDate string) LogFields {
	f[FieldHorizonDays] = horizonDays
	f[FieldReferenceDate] = referenceDate
	return f
}

// WithProgression adds month progression result fields
func (f LogFields) WithProgression(progressed, cleaned int) LogFields {
	f[FieldProgressed] = progressed
	f[FieldCleaned] = cleaned
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
