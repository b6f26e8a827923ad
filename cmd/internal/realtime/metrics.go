package realtime

// Metrics receives hub events. Implementations must be safe for concurrent use.
type Metrics interface {
	SessionOpened()
	SessionSuperseded()
	SessionRemoved(reason string)
	OnlineUsers(n int)
	BroadcastSent(recipients int)
	BroadcastSuppressed()
	Delivery(event string, delivered bool)
	SideEffectDropped(job string)
	SideEffectFailed(job string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionOpened()           {}
func (NopMetrics) SessionSuperseded()       {}
func (NopMetrics) SessionRemoved(string)    {}
func (NopMetrics) OnlineUsers(int)          {}
func (NopMetrics) BroadcastSent(int)        {}
func (NopMetrics) BroadcastSuppressed()     {}
func (NopMetrics) Delivery(string, bool)    {}
func (NopMetrics) SideEffectDropped(string) {}
func (NopMetrics) SideEffectFailed(string)  {}

// Removal reasons passed to Metrics.SessionRemoved.
const (
	RemovedDisconnect       = "disconnect"
	RemovedTransportClosed  = "transport_closed"
	RemovedIdentityMismatch = "identity_mismatch"
	RemovedInactive         = "inactive"
	RemovedShutdown         = "shutdown"
)
