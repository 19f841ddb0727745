// Package testing provides test utilities for the streamr client.
//
// This package offers helpers for setting up test environments, including
// an embedded NATS server for exercising the NATS transport without an
// external broker. It follows Go's convention of providing testing
// utilities in a dedicated package (similar to net/http/httptest).
//
// Key utilities:
//   - NewTestLogger: a Logger that writes to testing.T
//   - StartEmbeddedNATS: single in-process NATS server, for transport tests
//
// Example usage:
//
//	import (
//	    "testing"
//	    streamrtest "github.com/streamr-dev/streamr-client-go/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := streamrtest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
