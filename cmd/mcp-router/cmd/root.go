// Package cmd provides the CLI commands for the MCP router.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/mcp-router/internal/config"
)

var cfgFile string

// v holds the configuration sources for the current invocation.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "mcp-router",
	Short: "MCP router - stdio and HTTP/SSE front end for an MCP server",
	Long: `mcp-router accepts Model Context Protocol clients over stdio and over
HTTP with Server-Sent Events, screens every HTTP request through a security
gate, and hands each session to the MCP engine.

Quick start:
  mcp-router start              # stdio only
  mcp-router start --sse        # stdio plus SSE on 127.0.0.1:3000

Configuration:
  Config is loaded from mcp-router.yaml in the current directory,
  $HOME/.mcp-router/, or /etc/mcp-router/.

  Environment variables override config values with the MCP_ROUTER_ prefix.
  Example: MCP_ROUTER_PORT=8080

Commands:
  start       Start the router
  stop        Stop the running router
  config      Print the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-router.yaml)")
}

func initConfig() {
	config.InitViper(v, cfgFile)
}
