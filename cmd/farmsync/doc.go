// Command farmsync keeps a farmer's data usable on a device without
// connectivity and reconciles it with the cooperative's remote system.
//
// Usage:
//
//	farmsync login --mobile 9876543210
//	farmsync records put land --data '{"name":"North field","area_acres":2}'
//	farmsync sync
//	farmsync agent
//
// Configuration is read from farmsync.yaml in the user config directory,
// FARMSYNC_* environment variables (FARMSYNC_SYNC__PAGE_SIZE sets
// sync.page_size) and --set key=value flags, in increasing precedence.
package main
