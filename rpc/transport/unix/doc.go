// Package unix provides Unix domain socket connectors for the base connection engine.
// It is meant for processes on the same machine: no TCP/IP stack is involved, only the
// socket buffer sizes of the config apply.
//
// The address of the config is the socket path. An existing socket file is removed before
// listening.
package unix
