// Package download streams HTTP response bodies to disk with optional
// checksum validation and progress reporting.
//
// [Handle] writes a body to a temporary file alongside the destination
// path, then renames it on success:
//
//	err := download.Handle(ctx, resp.Body, resp.ContentLength, destPath, logger,
//		download.WithChecksum(sha256.New(), expectedHex),
//	)
//
// The File consumers of [github.com/adamwoolhether/hostclient/client]
// invoke Handle internally; [Filename] resolves the destination name from
// a Content-Disposition header.
package download
