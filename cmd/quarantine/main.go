// Package main provides the entry point for the quarantine service: an
// automated containment responder for compromised compute instances.
package main

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	Execute()
}
