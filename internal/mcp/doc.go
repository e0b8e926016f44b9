// Package mcp exposes the veritas pipeline as Model Context Protocol tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) and
// calls the orchestrator engine directly. Two tools are registered:
//
//   - veritas_ask runs a query through a method and returns the final answer,
//     its confidence and a per-phase summary.
//   - veritas_method describes a loaded method and the phases it will run.
//
// Every invocation is recorded in OpenTelemetry metrics under veritas.mcp.tool.*.
package mcp
