// Package server implements the callee side of a bridge.
//
// A Dispatcher owns one dispatch goroutine (Serve) and a bounded pool of
// handler workers (panjf2000/ants). The dispatch goroutine never blocks on the
// segment: it sleeps on the doorbell channel the caller rings after posting a
// request, reads and decodes the request and hands the handler to the pool.
// Handlers therefore never stall the dispatch loop, and a handler that hangs
// only costs one worker.
//
// Ownership of the segment is arbitrated through the Sequence header cell:
//
//	0            caller owns the segment
//	seq          request seq is posted, callee owns the segment
//	seq|SeqBusy  callee is reading the request or writing the response
//
// A response is only written after the callee swapped seq to seq|SeqBusy. When
// the caller timed out in the meantime the swap fails and the response is
// dropped (counted in dbridge_stale_responses_total).
//
// Handler outcomes map to responses as follows:
//
//   - value: success response
//   - error implementing common.Named: error response keeping that name
//   - any other error: OperationError with the error text
//   - panic: OperationError with the name "Panic"
//   - unknown op id: UnknownOperation
//   - response not encodable or larger than the segment: SerializationError
//
// Usage:
//
//	reg := registry.New()
//	reg.RegisterNamed("ping", func(ctx context.Context, args []any) (any, error) {
//		return "pong", nil
//	})
//
//	d, err := server.NewDispatcher(reg, serializer.NewBinarySerializer(), server.WithWorkers(4))
//	if err != nil {
//		return err
//	}
//	defer d.Close(time.Second)
//	go d.Serve(ctx)
package server
