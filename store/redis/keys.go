package redis

// Key prefixes for primary entity storage.
const (
	prefixItem  = "beacon:item:"
	prefixEntry = "beacon:entry:"
)

// Key prefixes for sorted set indexes.
//
// An item's state is mirrored by zset membership: a pending item is a member
// of zItemPending (scored by next_retry_at), a processing item of
// zItemProcessing (scored by claimed_at), and terminal items of their state
// zset (scored by completed_at). Claims and cancellations race on the ZREM
// of the pending member, which Redis executes atomically.
const (
	zItemAll        = "beacon:z:item:all"      // scored by created_at
	zItemPending    = "beacon:z:item:pending"  // scored by next_retry_at
	zItemProcessing = "beacon:z:item:claimed"  // scored by claimed_at
	zItemCompleted  = "beacon:z:item:done"     // scored by completed_at
	zItemFailed     = "beacon:z:item:failed"   // scored by completed_at
	zItemCancelled  = "beacon:z:item:dropped"  // scored by completed_at
	zItemOrder      = "beacon:z:item:order:"   // + order ID, scored by created_at
	zEntryAll       = "beacon:z:entry:all"     // scored by created_at
	zEntryOrder     = "beacon:z:entry:order:"  // + order ID, scored by created_at
	zAttemptPair    = "beacon:z:attempt:"      // + order|dest, scored by created_at
	zSuccessTriple  = "beacon:z:success:"      // + order|dest|type, scored by created_at
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// pairKey returns the attempt index key for an order+destination pair.
func pairKey(orderID, destination string) string {
	return zAttemptPair + orderID + "|" + destination
}

// tripleKey returns the success index key for an order+destination+type
// triple.
func tripleKey(orderID, destination, eventType string) string {
	return zSuccessTriple + orderID + "|" + destination + "|" + eventType
}

// terminalKey returns the zset for a terminal state.
func terminalKey(state string) string {
	switch state {
	case "failed":
		return zItemFailed
	case "cancelled":
		return zItemCancelled
	default:
		return zItemCompleted
	}
}
