// Package main hosts the labsync CLI entrypoint and command graph.
//
// The Cobra-based command tree covers the full data lifecycle: staging raw
// acquisitions into upload jobs, queueing analyses, executing claimed jobs on
// worker nodes, and inspecting or repairing the queue. It centralizes
// configuration resolution and logging setup so subcommands stay thin.
//
// Keep this package lean: new functionality belongs in the internal packages
// first, surfaced here through dedicated commands or flags.
package main
