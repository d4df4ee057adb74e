// Package http exposes the pipeline over a chi router.
//
// Handlers stay thin: they decode and validate the request, call the
// services layer and render the result. Every error goes through
// errors.ErrorHandler so clients always receive RFC 7807 problem details.
//
// Routes:
//
//	POST /api/v1/ingest     validate and merge uploaded files for one mode
//	POST /api/v1/train      train on the validated file or the datastore
//	POST /api/v1/predict    predict inline rows, or the validated file
//	GET  /api/v1/artifacts  describe the current artifact generation
//	GET  /api/health        service health
//	GET  /api/health/ready  503 until a generation is committed
//	GET  /metrics           Prometheus scrape endpoint
//	GET  /ws/progress       stage progress events over a websocket
package http
