// Package thread ties the control plane together into a runnable Node.
//
// A Node owns one dataset registry and one bootstrap engine, and gives every
// configured interface its own UDP socket, messaging service and management
// server. Engine requests leave through the link protocol in this package,
// responses come back as engine events, and a ticker drives the engine's
// one-second timers.
//
//	node, err := thread.NewNode(thread.NodeConfig{
//	    Interfaces: []thread.InterfaceConfig{{ID: 0, Mode: "router"}},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop()
//
// Configuration can also be read from YAML with LoadConfig.
package thread
