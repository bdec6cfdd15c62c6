// Package notify defines the escalation notification contract.
// Integrity failures and annual policy-review reminders are handed to
// a Notifier; the delivery mechanism behind it (mail, paging, chat) is
// out of scope for the engine.
package notify
