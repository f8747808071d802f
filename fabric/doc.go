// Package fabric is the access layer to the content-addressed network that
// holds encrypted artifacts and their preview metadata.
//
// Reads walk a fixed, ordered list of endpoints; each attempt is time-boxed
// and validated (non-empty, not an HTML error page, hash-checked when the CID
// addresses raw bytes). Only exhausting the whole list is an error. Writes go
// through a single authoritative ingress.
//
// Backends live in subpackages and register themselves with fabric/registry.
package fabric
