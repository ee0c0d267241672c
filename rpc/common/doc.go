// Package common provides the configuration structures and the logging setup shared by all
// dNet packages.
//
// Key Components:
//
//   - ServerConfig / ClientConfig: Configuration of a listener or connector. Both validate
//     themselves (Validate) and render a human readable overview (String). The fields shared by
//     both are exposed as EngineConf, the socket options as TransportConf.
//
//   - ProtocolConf: Signature, content limit, compression and encryption key of the wire
//     protocol.
//
//   - Logger: Custom logger factory for dragonboat's logger facade which every package uses
//     via logger.GetLogger. InitLoggers installs it and sets the log level.
package common
