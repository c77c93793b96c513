/*
Package events implements the worker log/stdout event broker (the
PublicState event service): a single in-memory, best-effort pub/sub bus
shared by all active workers, used for log-follow and debugging UIs.

Publish is non-blocking; slow or absent subscribers never hold up the worker
that produced the event. Delivery is not guaranteed and there is no history —
a client that wants the durable record reads the oplog, not this bus.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			if ev.WorkerID == wantWorker {
				fmt.Println(ev.Type, ev.Message)
			}
		}
	}()
*/
package events
