// Package rendition generates derived image renditions (WebP) for assets
// admitted into a content store and removes them again when the asset is
// deleted.
//
// A Pipeline reacts to two lifecycle notifications. AssetCreated schedules a
// deferred task through a Scheduler; the task re-reads the asset, walks the
// implicit "original" format plus every recorded breakpoint, and for each
// one fetches the source bytes from a Provider, encodes them with an
// Encoder, uploads the result through the same Provider and merges the new
// renditions into the asset's format map. AssetDeleting removes every
// derived rendition the asset still references.
//
// Storage providers (local filesystem, S3-compatible object stores, memory),
// asset stores (memory, Postgres), schedulers (in-process, Redis) and the
// WebP codec live under subpackages.
//
// Naming Convention
//
// The derived key for the "original" format is "webp"; for any other
// breakpoint X it is "X_webp". SourceFormatName inverts the mapping.
//
// Known Weakness
//
// Processing starts a fixed delay after creation (Settings.CreateDelay) so
// the CMS can finish writing its own breakpoints. Nothing guarantees they are
// ready by then; an asset with no recorded breakpoints is skipped.
package rendition
