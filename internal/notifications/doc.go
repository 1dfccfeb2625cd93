// Package notifications delivers user-facing toasts.
//
// A Service fans each toast out to its publishers: the console publisher
// writes coloured lines to the terminal, and the ntfy publisher pushes the
// same text to a topic when one is configured. Publisher failures are logged
// and never surface to the caller; a toast is advisory.
//
// Components depend only on the Notifier interface so tests can record toasts
// without a terminal.
package notifications
