// Package cmd implements the command-line interface of dNet. It starts
// listeners and connectors configured through flags, DNET_* environment
// variables or a YAML config file.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a listener that echoes, broadcasts or discards packets
//   - client: Sends packets to a listener and measures throughput and latency
//   - config: Prints the effective configuration as YAML
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dnet -help for a list of all commands.
package cmd
