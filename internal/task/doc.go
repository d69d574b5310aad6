// Package task runs an external program as a managed, single-shot unit of work.
//
// A Task moves through three states exactly once each:
//
//	ready -> executing -> finished
//
// Start spawns the program in its own process group and returns. Standard
// output is delivered to the output callback from a dedicated goroutine, and
// once the program has exited and its output is drained the completion
// callback receives the exit status. The completion callback always runs after
// the last output callback has returned.
//
// Cancel does not kill the program outright. It starts an escalation:
//
//	SIGINT  -> wait interrupt timeout
//	SIGTERM -> wait terminate timeout
//	SIGKILL
//
// If the program exits at any point, the escalation stops and the normal exit
// path reports its status. Worst-case shutdown latency is the sum of the two
// timeouts.
//
// Exit status values:
//
//	0..255          exit code chosen by the program
//	128 + signal    program ended by a signal (see Task.Signaled)
//	-1              program could not be launched (see Task.LaunchError)
//
// Output granularity is configurable. OutputRaw (the default) delivers each
// read as-is; chunk boundaries are arbitrary and may split multi-byte runes.
// OutputLines delivers whole lines including the trailing newline, plus any
// unterminated final line.
package task
