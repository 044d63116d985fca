// Package dispatch sends a campaign to its audience.
//
// A live dispatch resolves the audience, claims the campaign (distributed
// lock plus a compare-and-swap from draft to sending), and sends in ordered
// batches. Each batch is worked by a bounded pool of goroutines fed from a
// channel; every send waits on a shared token bucket and a pool-wide pause
// that opens when the provider reports rate limiting. Outcomes go to the
// event ledger as they happen, counters are folded in by the driving
// goroutine, and a checkpoint is written after every batch so a crashed run
// can be resumed. The campaign row itself is written twice: once to claim
// it and once to finalize it.
//
// A test dispatch sends one message to an operator address and only stamps
// the campaign's test fields.
package dispatch
