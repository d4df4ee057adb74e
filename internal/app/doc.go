// Package app wires configuration, telemetry, the artifact store, the
// optional datastore and the pipeline services into one Application.
//
// The CLI builds an Application for every subcommand. Only the serve
// command starts the HTTP server and the websocket hub:
//
//	application, err := app.New(ctx, cfg, app.Options{Progress: true})
//	if err != nil {
//	    return err
//	}
//	defer application.Close(context.Background())
//	return application.Serve(ctx)
//
// New never calls os.Exit; every failure is returned to main.
package app
