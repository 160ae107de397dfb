/*
Package scheduler computes each tick's launch plan from node-type
inventory and resource demand.

It runs no loop of its own — Schedule is a pure function the reconciler
calls once per tick with a fresh Input. The algorithm:

 1. Compute available launch slots per node type from max_workers.
 2. Fill min_workers unconditionally.
 3. Satisfy explicit resource requests via bin-packing, launching the
    cheapest feasible node type for any residual.
 4. Satisfy demand bundles the same way, in order.
 5. Cap total discretionary (non-min_workers) launches at
    max(5, ceil(upscaling_speed * (existing + pending))).

BinPackResidual is exported separately. The reconciler applies the same
greedy, order-sensitive packing to compute which nodes are protected by
request_resources during termination planning, with its own copy of the
placement loop since it needs to know which node absorbed each bundle.
*/
package scheduler
