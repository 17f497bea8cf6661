// Package mgmttx implements the battery management processor: the transaction format
// sent to address.BatteryManagementProcessorAddress and its execution against
// processor state.
//
// Calldata is an RLP encoded ManagementTransaction compressed with brotli. A
// transaction that fails leaves no state behind; callers run it against a journaled
// state and discard the journal on error.
package mgmttx
