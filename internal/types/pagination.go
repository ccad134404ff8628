package types

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool `json:"has_more"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	TotalItems *int `json:"total_items,omitempty"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// ResponseMeta contains non-blocking metadata returned with API responses.
type ResponseMeta struct {
	Warnings   []string  `json:"warnings,omitempty"`
	Pagination *PageInfo `json:"pagination,omitempty"`
}
