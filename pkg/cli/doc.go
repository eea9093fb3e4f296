// Package cli provides the memauthz command-line interface.
//
// # Overview
//
// This package implements the `memauthz` tool operators use to inspect
// authorization decisions against a configured store and to run the admin
// server. Store settings come from MEMAUTHZ_* environment variables; each
// command accepts --store, --policy, --sqlite and --inheritance overrides.
// Users, roles and resources may be named by UUID or by the name a policy
// file declares.
//
// # Commands
//
// check: Decide one request and print the verdict with its trace
//
//	memauthz check \
//		--policy ./policy.yaml \
//		--user alice \
//		--action read \
//		--type memory.long_term \
//		--resource design-notes
//
// expand: Print a role's inheritance closure
//
//	memauthz expand --role lead --inheritance downward
//
// filter: Print the list-query filter and, with --list, the matching records
//
//	memauthz filter --user alice --type memory.mid_term --list
//
// validate: Check policy files without loading them
//
//	memauthz validate ./policy.yaml ./staging.yaml
//
// serve: Run the admin server with policy reload and scheduled jobs
//
//	MEMAUTHZ_POLICY_FILE=./policy.yaml memauthz serve --watch
package cli
