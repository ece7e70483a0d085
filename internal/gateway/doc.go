// Package gateway hosts the gateway's HTTP(S) server.
//
// Every request passes the middleware chain and the security pipeline
// before it reaches the gin engine. The engine serves the token
// controller under the topology's gateway prefix and the health
// endpoints. All other paths go to the upstream proxying stage.
//
// # Usage
//
//	gw, err := gateway.New(cfg,
//	    gateway.WithLogger(logger),
//	    gateway.WithSecurity(pipeline, dispatcher),
//	    gateway.WithController(controller),
//	    gateway.WithUpstream(proxy),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(context.Background())
package gateway
