// Package api implements the portal device API: listing the devices on
// an account and executing RPC-style commands against a single device.
//
// Commands are relayed by the portal to the device over its own uplink;
// the HTTP response carries the device's reply envelope. A reply whose
// portal result is not "ok", or whose body code is non-zero, is reported
// as an *Error.
package api
