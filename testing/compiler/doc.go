/*
Package compiler builds the fake server and client binaries that the harness tests drive.

Binaries are written to a temporary directory using the same naming as a real build
output directory (".exe" suffix on windows), so the directory can be handed straight to
the demo orchestrator as its artifact location.
*/
package compiler
