// Package api exposes the REST surface of the marketplace: seller
// registration, buyer job submission, job status queries, transaction
// history and wallet balances. It also serves health and metrics
// endpoints for operators.
package api
