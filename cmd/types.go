package main

// options are the parsed command line flags
type options struct {
	ConfigPath  string
	Format      string
	List        bool
	NoArtifacts bool
}

// exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitCancelled = 130
)
