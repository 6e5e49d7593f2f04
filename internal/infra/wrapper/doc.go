// Package wrapper provides context-aware wrapper functions for outbound
// HTTP and Redis operations.
//
// This package enforces consistent context propagation across I/O operations
// by providing wrapper functions that:
//   - Require context as the first parameter
//   - Apply default timeouts when context has no deadline
//   - Return early if context is already done
//   - Preserve existing deadlines (never overwrite)
//
// Default timeouts:
//   - HTTP requests: 30 seconds
//   - Redis operations: 30 seconds
//
// Usage:
//
//	// HTTP request with automatic timeout
//	resp, err := wrapper.DoRequestWithClient(ctx, client, req)
//
//	// Redis operation with context check
//	err := wrapper.DoRedis(ctx, func(ctx context.Context) error { return rdb.Set(ctx, ...) })
package wrapper
