// Package pipeline composes request handlers from ordered stages.
//
// A Stage receives the request context, the request and the next handler
// and decides whether and how to call it. Chain wraps a core handler so that
// the first stage listed runs outermost:
//
//	h := pipeline.Chain(createOrder,
//		pipeline.Recover[CreateOrder, Order](logger),
//		pipeline.Logging[CreateOrder, Order](logger, "create_order"),
//		pipeline.RequirePrincipal[CreateOrder, Order](),
//		pipeline.Validation[CreateOrder, Order](validate),
//	)
//
// Ordering is configuration: the same stages can be reassembled for another
// handler without new types.
package pipeline
