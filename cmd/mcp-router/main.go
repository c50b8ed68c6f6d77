// Command mcp-router serves an MCP engine over stdio and HTTP/SSE.
package main

import "github.com/Sentinel-Gate/mcp-router/cmd/mcp-router/cmd"

func main() {
	cmd.Execute()
}
