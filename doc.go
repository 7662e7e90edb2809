// Package idemplug provides idempotent-request tracking for Go services.
//
// A Tracker records logically identical operations under caller-supplied
// keys so that each operation executes at most once. The first caller of a
// key becomes the executor and later callers observe a single outcome: the
// operation in flight, its cached response, a halted execution, or a
// rejection when the key is reused with a different request fingerprint.
//
// Executions are monitored through the caller's context. If the context
// ends before Complete is called the entry is converted to a terminal
// halted state, so repeated requests never wait on a dead executor. Entries
// expire after a configurable TTL and are removed by a background pruner.
//
// Storage is pluggable behind the types.Store interface. Three backends
// ship with the module:
//
//   - store/memstore: in-process concurrent map, single-instance use
//   - store/pgstore: PostgreSQL via pgx, multi-instance deployments
//   - store/natsstore: NATS JetStream key-value bucket
//
// Basic usage:
//
//	cfg := idemplug.DefaultConfig()
//	tracker, err := idemplug.NewTracker(&cfg, memstore.New())
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := tracker.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer tracker.Stop(context.Background())
//
//	outcome := tracker.Track(ctx, key, fingerprint)
//	switch outcome.Kind {
//	case idemplug.OutcomeInit:
//		resp := doWork()
//		tracker.Complete(ctx, key, resp)
//	case idemplug.OutcomeCachedDone:
//		reuse(outcome.Response)
//	case idemplug.OutcomeInFlight:
//		// retry later
//	}
//
// The httpmw package wraps this flow into a net/http middleware keyed by
// the Idempotency-Key header, and the digest package provides the key and
// fingerprint hashing used by it.
package idemplug
