package models

// ResolveRequest is the payload for POST /api/v1/resolve.
type ResolveRequest struct {
	// URL is the wrapper URL to resolve. Required.
	URL string `json:"url" form:"url" binding:"required,url"`
}

// BatchResolveRequest is the payload for POST /api/v1/resolve/batch.
type BatchResolveRequest struct {
	// URLs are resolved independently of each other. Max: 20.
	URLs []string `json:"urls" binding:"required,min=1,max=20,dive,required,url"`
}
