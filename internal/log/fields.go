// internal/log/fields.go
package log

// Field names shared by every component.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldMemberID   = "member_id"
	FieldMonthKey   = "month_key"
	FieldAmount     = "amount"
	FieldBalance    = "balance"
	FieldOutcome    = "outcome"
	FieldAttempt    = "attempt"
)

// Component names.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentClient    = "member_api"
	ComponentLedger    = "ledger"
	ComponentJournal   = "journal"
	ComponentNotify    = "notify"
	ComponentChaos     = "chaos"
	ComponentTelemetry = "telemetry"
)

// Operation names.
const (
	OpSignIn   = "sign_in"
	OpSignOut  = "sign_out"
	OpList     = "list"
	OpCreate   = "create"
	OpDelete   = "delete"
	OpLoad     = "load"
	OpRefresh  = "refresh"
	OpPayMonth = "pay_month"
	OpAdjust   = "adjust_balance"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
