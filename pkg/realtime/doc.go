// Package realtime keeps many logical change-event subscriptions alive over
// one shared pub/sub transport.
//
// A Manager owns the subscription set. Each subscription carries its own
// retry state: failures back off geometrically (base delay grown per
// consecutive failure, capped) up to a per-subscription retry ceiling, after
// which the subscription is marked failed and its error callback fires once.
// Error containment is strict: one subscription exhausting its retries never
// touches its siblings.
//
// Global failures are handled separately. A burst of errors across
// subscriptions opens a circuit breaker that suppresses coordinated
// reconnects for a cooldown window. Sustained join timeouts instead trigger
// a cold reconnect: the transport credential is refreshed, every channel is
// torn down, and subscriptions are recreated with a small stagger.
//
// Usage:
//
//	transport, err := realtime.NewRedisTransport(client)
//	if err != nil {
//		return err
//	}
//	mgr, err := realtime.NewManager(transport, realtime.DefaultConfig(),
//		realtime.WithTokenRefresher(refresh),
//	)
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	teardown, err := mgr.Subscribe("feed:ev_123", realtime.SubscriptionConfig{
//		Channel: realtime.ChannelConfig{
//			Topic:  "events:ev_123",
//			Table:  "messages",
//			Type:   realtime.EventAll,
//			Filter: "event_id=ev_123",
//		},
//		OnData: func(ev realtime.Event) { /* fold into feed state */ },
//	})
//	if err != nil {
//		return err
//	}
//	defer teardown()
//
//	go mgr.Run(ctx) // periodic health checks
//
// Browser-style lifecycle signals (visibility, online) funnel through
// NotifyVisibility and NotifyOnline; bursts coalesce into a single debounced
// health check, and an unhealthy score triggers at most one coordinated
// reconnect.
package realtime
