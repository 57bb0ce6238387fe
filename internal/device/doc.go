// Package device holds the data model shared by the GATT request engine and its
// radio drivers.
//
// It defines:
//   - RequestKey, the normalized (service, characteristic) pair used to correlate
//     requests with transport events
//   - Action, the tagged read/write/notify operation queued at the coordinator
//   - the Transport interface and the asynchronous Event set drivers emit
//   - the error taxonomy every completion callback observes
package device
