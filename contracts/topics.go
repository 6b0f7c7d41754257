package contracts

import "sort"

// Topic is a stable stream name on the event bus.
type Topic string

const (
	TopicEntityCreated  Topic = "entity-created"
	TopicEntityUpdated  Topic = "entity-updated"
	TopicOrderCreated   Topic = "order-created"
	TopicOrderUpdated   Topic = "order-updated"
	TopicOrderCancelled Topic = "order-cancelled"
	TopicPaymentCreated Topic = "payment-created"
	TopicCartCheckout   Topic = "cart-checkout"
)

const SchemaVersion = "v1"

// TopicSpec describes the contract of one topic.
type TopicSpec struct {
	Topic Topic
	// PartitionKeyPath names the data field whose value must equal the message key.
	PartitionKeyPath string
	// Creates marks topics whose events bring a replica into existence.
	Creates bool
}

var registry = map[Topic]TopicSpec{
	TopicEntityCreated:  {Topic: TopicEntityCreated, PartitionKeyPath: "data.item_id", Creates: true},
	TopicEntityUpdated:  {Topic: TopicEntityUpdated, PartitionKeyPath: "data.item_id"},
	TopicOrderCreated:   {Topic: TopicOrderCreated, PartitionKeyPath: "data.order_id", Creates: true},
	TopicOrderUpdated:   {Topic: TopicOrderUpdated, PartitionKeyPath: "data.order_id"},
	TopicOrderCancelled: {Topic: TopicOrderCancelled, PartitionKeyPath: "data.order_id"},
	TopicPaymentCreated: {Topic: TopicPaymentCreated, PartitionKeyPath: "data.order_id", Creates: true},
	TopicCartCheckout:   {Topic: TopicCartCheckout, PartitionKeyPath: "data.cart_id", Creates: true},
}

func Lookup(topic Topic) (TopicSpec, bool) {
	spec, ok := registry[topic]
	return spec, ok
}

func IsKnownTopic(topic Topic) bool {
	_, ok := registry[topic]
	return ok
}

// Topics returns the catalog in a stable order.
func Topics() []Topic {
	out := make([]Topic, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DLQTopic is where messages that exhausted their deliveries are parked.
func DLQTopic(topic Topic) string {
	return string(topic) + ".dlq"
}
