// Package tray implements the system tray icon and menu for the daemon.
package tray

// DaemonState provides the tray read access to daemon state plus the few
// actions the menu exposes.
type DaemonState interface {
	Backends() []BackendInfo
	RunningOperations() []OperationInfo
	CancelOperation(id string)
	RefreshAll()
	RequestShutdown()
}

// BackendInfo describes one configured backend for the health section.
type BackendInfo struct {
	Name    string
	Enabled bool
	Healthy bool
	Detail  string
}

// OperationInfo describes a running operation for its menu slot.
type OperationInfo struct {
	ID          string
	Name        string
	Description string
	Runtime     string
}
