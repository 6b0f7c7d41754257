package events

import (
	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/eventing"
	"github.com/viralforge/commerce-mesh/platform/replica"
)

// Subscriptions feed the order replica. The three order topics are not ordered against
// each other; the replica's version gate sorts them out.
func Subscriptions(serviceID string, orders *replica.Applier) []eventing.Subscription {
	group := eventing.Group(serviceID, "order-replica")
	topics := []contracts.Topic{contracts.TopicOrderCreated, contracts.TopicOrderUpdated, contracts.TopicOrderCancelled}
	subs := make([]eventing.Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, eventing.Subscription{Topic: string(t), Group: group, Handler: orders.Handler()})
	}
	return subs
}
