package orders

const (
	TopicOrderPlaced           = "order.placed"
	TopicOrderStatusChanged    = "order.status.changed"
	TopicCatalogProductChanged = "catalog.product.changed"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
