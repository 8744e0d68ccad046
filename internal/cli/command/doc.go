// Package command provides the CLI command definitions for sessionguard.
//
// Commands run the coordinator in-process: the configuration is loaded
// with confloader, the dependency container is bootstrapped on first use,
// and results are rendered with the output package.
package command
