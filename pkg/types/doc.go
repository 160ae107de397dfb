// Package types defines the data model shared by every autoscaler
// component: nodes, node types, resource bundles and demands, and the
// small state-machine enums (NodeStatus, UpdaterTaskState, KeepOrTerminate)
// passed between the reconciler, updater and scheduler.
//
// Resource quantities are a flat ResourceBundle (map[string]float64)
// rather than separate CPU/memory fields, so bin-packing code in
// pkg/scheduler treats built-in and custom resources uniformly.
package types
