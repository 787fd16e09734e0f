package admin

// OverviewResponse is the JSON response for GET /admin/api/v1/overview.
type OverviewResponse struct {
	CacheBackend   string `json:"cache_backend"`
	CacheTTL       string `json:"cache_ttl"`
	CacheEntries   int    `json:"cache_entries"`
	CacheSizeHuman string `json:"cache_size_human"`
	Uptime         string `json:"uptime"`
	Version        string `json:"version"`
	GoVersion      string `json:"go_version"`
}

// RemovedResponse reports how many cache entries a delete removed.
type RemovedResponse struct {
	Removed int `json:"removed"`
	// Namespace is the key prefix that was removed, empty for a full clear.
	Namespace string `json:"namespace,omitempty"`
}
