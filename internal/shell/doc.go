// Package shell turns a resolved job into one POSIX shell script and runs
// it in a single interpreter session.
//
// One session per job is the load-bearing contract: `export` and `source
// activate` in an early phase stay visible to every later command, exactly
// as they would in an interactive shell. The generated script separates
// steps with marker lines carrying a per-session nonce; the session parses
// them back out of the combined output stream to attribute output, timing,
// and exit codes to individual steps. A step exiting non-zero stops the
// script immediately via an explicit exit, so no later command runs in a
// broken environment.
//
// The script is fed to the interpreter on standard input (`sh -s`). That
// keeps local and containerized execution identical, at the documented
// cost that build commands must not read from stdin.
package shell
