// Package provision turns the configuration into a plan of named steps and
// executes it.
//
// The steps reproduce the UHD host build procedure: refresh the package
// index, install the build dependencies, clone the driver source, configure
// an out-of-tree CMake build, compile it with one job per CPU core, install
// it, and refresh the linker cache. Every command runs with
// DEBIAN_FRONTEND=noninteractive.
//
// Execution is sequential. The only concurrency is in Preflight, whose
// read-only checks run in parallel before the first step.
package provision
