package entitychanged

type Input struct {
	TenantID  string   `json:"tenantId"`
	EntityID  string   `json:"entityId,omitempty"`
	EntityIDs []string `json:"entityIds,omitempty"`
	// ClearTenant drops every cached match of the tenant.
	ClearTenant bool `json:"clearTenant,omitempty"`
}

type Output struct {
	Invalidated    []string `json:"invalidated"`
	RemovedEntries int      `json:"removedEntries"`
	TenantCleared  bool     `json:"tenantCleared"`
}
