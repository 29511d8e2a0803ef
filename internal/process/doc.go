// Package process supervises one plugin child process at a time.
//
// A Supervisor owns the child's standard streams and its state machine
// (STOPPED → STARTING → RUNNING → STOPPED). Output from stdout and stderr
// is split into lines; each non-empty line is kept in a rolling log,
// emitted as a log event and probed for JSON-RPC responses, child-initiated
// messages and the IPC endpoint announcement.
//
// Example usage:
//
//	sup := process.New(process.Config{
//	    Name:            "geth",
//	    Binary:          "/cache/geth/geth",
//	    GracefulTimeout: 10 * time.Second,
//	    ResolveIPC:      resolver,
//	})
//	sup.Events().Subscribe(func(ev events.Event) { ... })
//
//	if err := sup.Start(ctx, []string{"--syncmode", "light"}); err != nil {
//	    return err
//	}
//	defer sup.Stop()
//
// There is no automatic restart: a crash is reported through the error and
// pluginError events and the supervisor returns to STOPPED.
package process
