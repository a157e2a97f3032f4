// Package influxdb records authentication metrics to InfluxDB v2.
//
// Gatehouse counts login outcomes, token rotation outcomes and cache
// effectiveness as time-series points so operators can watch for
// credential-stuffing bursts or replay storms on a dashboard rather
// than by tailing the audit log.
//
// Writes go through the non-blocking WriteAPI: points are batched in
// memory and flushed asynchronously, so a slow or absent InfluxDB
// never adds latency to an authentication request. Write failures are
// reported through an error callback, not to the caller.
package influxdb
