// Package tx implements per-session stacks of pending command batches.
//
// A session stands in for an execution context: it is carried on a
// context.Context and every goroutine that wants its own transactions
// binds one with NewSession. Begin pushes a pipeline onto the session's
// stack, Commit and Abort always act on the top one:
//
//	ctx, _ = stack.Begin(ctx)
//	_ = stack.Top(ctx).Queue(ctx, redis.NewCmd(ctx, "INCR", "hits"))
//	replies, err := stack.Commit(ctx)
//
// Nested layers in one session are independent batches: an inner Commit
// sends only the inner layer, ahead of anything still queued below it.
package tx
