// Package mcpclient implements the client side of the Model Context Protocol (MCP),
// a JSON-RPC based tool-invocation protocol. It speaks to servers over two
// transports: a stdin/stdout pipe to a local subprocess, and a streamable HTTP
// connection, and multiplexes responses and server-initiated notifications over a
// shared pending-call table so that concurrent callers can await their own results
// independently of arrival order or originating channel.
//
// Subpackages layer a conversational agent on top: session persists conversation
// turns, registry loads server connection descriptors, and agent drives a
// language-model tool-selection loop across any number of connected servers.
package mcpclient
