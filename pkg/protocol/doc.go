// Package protocol defines the shared record model for the Accord
// coordination protocol. Requests, contracts and registry entries are plain
// text files - a YAML front-matter block followed by a free-form markdown
// body - replicated between service repositories and a shared hub via git.
//
// The package is the single source of truth for:
//
//   - Record types and their field-level validation (Request, Contract,
//     RegistryEntry)
//   - The status, type, scope and priority enumerations
//   - The front-matter encode/decode boundary (Marshal*/Parse*), which
//     rejects malformed records with a structured ParseError instead of
//     attempting best-effort text repair
//   - The Layout describing where records live inside a replica
//     (inboxes keyed by target owner, archive, contracts, registry)
//
// Every replica - each service repository and the hub - carries the same
// layout under the .accord directory, so the sync engine can reconcile
// replicas by copying whole records between equivalent paths.
package protocol
