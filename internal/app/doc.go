// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the execution context lifecycle used to
// load and summarize atomistic datasets, decoupled from any specific
// entrypoint like a CLI.
package app
