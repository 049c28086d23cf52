// Package crawler holds the shared vocabulary of the fetching core: jobs,
// page records, the collaborator interfaces and the sentinel errors.
package crawler
