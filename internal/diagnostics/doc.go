// Package diagnostics samples host and process resources for the service
// health endpoint.
//
// Two components are provided:
//
//   - SystemMetricsCollector: free space of the data directory, host memory
//     and load per core read through gopsutil, with pressure warnings.
//
//   - ResourceMonitor: periodic process snapshots (goroutines, heap, RSS,
//     open files) kept in a bounded history, with threshold warnings logged
//     while the server runs.
package diagnostics
