// Package resource bounds the engine's shared resources.
//
// A Controller owns three budgets:
//
//   - query slots: how many queries run at once across all workspaces
//   - background slots: how many compactions and snapshot saves run at once
//   - IO bandwidth: bytes per second written by snapshots and backups
//
// A nil *Controller is valid and imposes no limits.
package resource
