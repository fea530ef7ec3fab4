package service

import (
	"github.com/mytimer/mytimer-go/pkg/metrics"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/registry"
)

// meteredNotifier counts delivered events on their way to the channel.
type meteredNotifier struct {
	channel *notify.Channel
	metrics *metrics.Metrics
}

var _ registry.Notifier = (*meteredNotifier)(nil)

func (n *meteredNotifier) Publish(ev notify.Event) int {
	delivered := n.channel.Publish(ev)
	n.metrics.ObserveNotifications(ev.Kind.String(), delivered)
	return delivered
}

func (n *meteredNotifier) NotifyOwner(ownerID int, ev notify.Event) int {
	delivered := n.channel.NotifyOwner(ownerID, ev)
	n.metrics.ObserveNotifications(ev.Kind.String(), delivered)
	return delivered
}
