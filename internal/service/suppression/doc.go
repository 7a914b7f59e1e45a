// Package suppression manages mailing lists, subscribers and the
// unsubscribe set.
//
// This is the single source of truth for whether an email address may be
// added to a list or receive mail. Unsubscribes flow in from user requests
// (signed unsubscribe links), hard bounces, complaints and manual admin
// actions. A record with an empty list id suppresses the address globally.
//
// The service layer contains business logic only and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
