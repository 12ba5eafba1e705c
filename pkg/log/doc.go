/*
Package log provides structured logging for planesync using zerolog.

A single package-level zerolog.Logger is configured once by Init, normally from
the CLI after configuration has been loaded. Libraries derive child loggers with
WithComponent or WithNodeID when they are constructed, so Init must run before
the persister and the heartbeat loop are created if their output matters.

Until Init is called the global Logger has no writer and discards everything,
which keeps package tests quiet.

# Usage

	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true})

	logger := log.WithComponent("persister")
	logger.Info().
		Str("node_id", "node-1").
		Msg("created node record")

Console output (the default) is meant for operators tailing a single node;
JSON output is meant for log shipping.
*/
package log
