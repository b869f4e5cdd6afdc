// Package account implements the account store of spec §4.2: create, read,
// modify, and delete the per-DID account record and its ACL state in the
// key-value store.
package account

// ChangeQueueLimits write-API sentinels, spec §4.2 "Queue-limit semantics".
const (
	QueueLimitUnlimited = int64(-1)
	QueueLimitResetSoft = int64(-2)
)
