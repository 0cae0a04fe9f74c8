// Package uploader provides concrete remote store backends behind the
// sync engine's Uploader boundary: an HTTP JSON poster for hosted event
// collections and a SQLite archive store for on-prem or air-gapped
// deployments.
package uploader
