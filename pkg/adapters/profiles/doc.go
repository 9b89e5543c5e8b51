// Package profiles provides ProfileProvisioner implementations.
//
// Implementations:
//   - httpapi: client for an anti-detect browser profile service exposing
//     create, start, stop and delete over HTTP
package profiles
