package rgw

type rateLimitResponse struct {
	UserRateLimit rateLimitInfo `json:"user_ratelimit"`
}

type rateLimitInfo struct {
	MaxReadOps    int64 `json:"max_read_ops"`
	MaxWriteOps   int64 `json:"max_write_ops"`
	MaxReadBytes  int64 `json:"max_read_bytes"`
	MaxWriteBytes int64 `json:"max_write_bytes"`
	Enabled       bool  `json:"enabled"`
}

type errorResponse struct {
	Code      string `json:"Code"`
	RequestID string `json:"RequestId"`
}
