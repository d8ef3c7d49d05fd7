package entities

// SystemTenant is the administrative scope. It bypasses quota checks and
// instance ownership checks.
const SystemTenant = "system"

// TenantLimits is the configured send ceiling set for one tenant, joined
// with its most recent subscription row.
type TenantLimits struct {
	TenantID       string
	DailySendLimit int
	InstanceLimit  int
	Plan           string
	Status         string
}

// TenantUsage is the usage summary reported back to tenants.
type TenantUsage struct {
	InstanceCount  int `json:"instanceCount"`
	InstanceLimit  int `json:"instanceLimit"`
	DailySendCount int `json:"dailySendCount"`
	DailySendLimit int `json:"dailySendLimit"`
}
