// Package main hosts the omniui CLI entrypoint and command graph.
//
// The Cobra-based command tree drives the image-generation backend: health
// checks, image listing and deletion, uploads, job submission with live
// progress, status inspection, watching and cancellation, and configuration
// scaffolding. It centralizes configuration resolution, logger and toast
// setup, and API client construction so subcommands can focus on rendering.
//
// Keep this package lean: behaviour lives in the internal packages and is
// surfaced here through dedicated commands or flags.
package main
