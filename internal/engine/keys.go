package engine

// Ledger key schema. Orders and executions live in per-id hashes; the
// indices are sorted sets scored by timestamp.
const (
	pendingQueueKey = "orders:pending"
	claimedQueueKey = "orders:claimed"
	statsKey        = "orders:stats"
	eventJournalKey = "orders:events"

	// EventChannel is the pub/sub channel execution events are
	// announced on for downstream consumers.
	EventChannel = "order.updates"
)

func orderKey(id string) string      { return "order:" + id }
func executionKey(id string) string  { return "execution:" + id }
func orderExecsKey(id string) string { return "order:" + id + ":executions" }
func userOrdersKey(id string) string { return "user:" + id + ":orders" }
