// Package runtime wires a pulse process together. It opens the shared store
// selected by configuration (Redis or the embedded Pebble store), verifies
// it is reachable and builds the registry, queues, dispatcher and workers on
// that single handle.
//
// Example:
//
//	cfg := config.Default()
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	d, _ := rt.Dispatcher(ctx, "")
//	_, _ = d.RunOnce(ctx)
package runtime
