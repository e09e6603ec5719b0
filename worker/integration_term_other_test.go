//go:build !unix

package worker

// integrationChildEnvVar and runIntegrationChild have real implementations
// in integration_term_test.go (spec.md S1-S3, B2); those tests depend on
// syscall.Kill and process-group signaling that only exist on Unix. This
// stub keeps TestMain (supervisor_test.go, built on every platform)
// compiling off Unix without those scenarios running there.
const integrationChildEnvVar = "RESQUE_WORKER_INTEGRATION_CHILD"

func runIntegrationChild() int { return 0 }
