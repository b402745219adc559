// Package docker runs jobs inside containers.
//
// It wraps the Docker Engine SDK with the surface the runner needs:
// client construction with automatic socket detection, a daemon ping,
// the `docker run` argv that feeds a job's shell session, and
// label-based discovery so `stagehand clean` can find and remove
// whatever interrupted runs left behind.
//
// The job itself is not driven through the SDK. The session pipes its
// script into `docker run -i <image> <shell> -s`, which keeps the exact
// same marker protocol as local execution; the SDK is used for the
// ping check and for cleanup.
package docker
