package taskname

const (
	// Engine tasks
	EngineEventReceived = "engine:event:received"
	EngineTenantScan    = "engine:scan:tenant"

	// Broadcast tasks
	BroadcastEntryFlush = "broadcast:entry:flush"
)
