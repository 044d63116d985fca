// Package unsubscribe processes recipient opt-outs that arrive through the
// signed links embedded in campaign mail.
//
// An opt-out is recorded once per (campaign, email). The first time it is
// seen the contact's email consent is revoked, an unsubscribed event is
// appended to the ledger and the campaign's unsubscribe counter is bumped.
// Repeats are acknowledged without side effects so that link prefetchers
// and queue redelivery cannot inflate the counter.
package unsubscribe
