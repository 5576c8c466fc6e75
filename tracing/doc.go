// Package tracing is a thin OpenTelemetry wrapper used to record a span per
// task lifetime. It lives in its own package so applications that do not
// need tracing keep it out of their build.
package tracing
