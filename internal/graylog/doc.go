// Package graylog queries the Graylog views search API for recent message
// activity. Each search covers a trailing five-minute window over a fixed set
// of streams and is reduced to a model.Sample of message, error and warning counts.
package graylog
