// Package campaign implements the campaign lifecycle.
//
// Campaigns are created and edited as drafts. A live dispatch moves a draft
// to sending with a compare-and-swap on its status, and finalizes it as
// completed (at least one message sent) or failed. There is no path back to
// draft and no partial state. The service depends on the Repository
// interface defined here and never on handlers.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
