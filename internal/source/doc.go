// Package source reads a library export into candidate records.
//
// Supported inputs, detected from content rather than file name:
//   - an Amazon "Download Your Data" directory (Digital.Content.Ownership)
//   - a Safari webarchive of the library page
//   - an MHTML "single file" save of the library page
//   - a plain HTML save of the library page
//
// Page saves carry an embedded JSON payload (the itemViewResponse script)
// plus whatever titles were rendered while scrolling. Both are read and
// merged, payload entries first, deduplicated by identifier.
//
// Malformed entries are skipped and counted in Result.Skipped. Load fails
// only when the input cannot be read or its container cannot be decoded.
package source
