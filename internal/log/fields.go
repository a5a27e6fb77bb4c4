package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldUserID        = "user_id"
	FieldEntityType    = "entity_type"
	FieldLocalID       = "local_id"
	FieldServerID      = "server_id"
	FieldTransactionID = "transaction_id"
	FieldAccountID     = "account_id"
	FieldAmountCents   = "amount_cents"
	FieldSyncState     = "sync_state"
	FieldPendingCount  = "pending_count"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentLedger     = "ledger"
	ComponentStorage    = "storage"
	ComponentLocalStore = "localstore"
	ComponentSyncEngine = "syncengine"
	ComponentWorker     = "worker"
	ComponentEvents     = "events"
	ComponentCache      = "cache"
	ComponentAPI        = "api"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpUpload    = "upload"
	OpDownload  = "download"
	OpReconcile = "reconcile"
	OpSync      = "sync"
	OpStartup   = "startup"
	OpShutdown  = "shutdown"
)
