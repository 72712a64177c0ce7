// Package indiserver supervises a local indiserver process.
//
// Bench and observatory setups often run indiserver on the same host as the
// panel. The Supervisor launches it with the configured drivers, waits until
// its TCP port accepts connections, and restarts it with a fixed delay when
// it exits unexpectedly. Server and driver output is logged line by line.
//
// The whole process group is signalled on shutdown so driver children exit
// with the server: SIGTERM first, SIGKILL after the graceful timeout.
//
// Example usage:
//
//	sup := indiserver.New(indiserver.Config{
//	    Binary:  "indiserver",
//	    Port:    7624,
//	    Drivers: []string{"indi_simulator_ccd", "indi_simulator_telescope"},
//	})
//	sup.SetLogger(log)
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package indiserver
