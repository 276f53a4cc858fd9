// Package bootstrap wires a Vigil session: the entity store, the backend
// client, both producers, the mutation dispatcher and the view API. It owns
// their start order and teardown.
//
// Usage:
//
//	app, err := bootstrap.NewApp(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for a signal, a cancelled context or a view API failure
//	app.WaitForShutdown(ctx)
package bootstrap
