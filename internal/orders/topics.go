package orders

const (
	TopicOrderEvents  = "order.events"
	TopicOrderTimeout = "order.timeout"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
