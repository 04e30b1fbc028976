// Package docker provides Docker Engine API wrappers for running the
// provisioning procedure inside a throwaway container.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Container labels that tie a container to the run that created it
//   - A runner.Runner that executes each command through the exec API
//   - Listing and removing leftover containers (the prune command)
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
