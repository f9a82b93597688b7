// Package manifest records committed training runs.
//
// A run writes its vocabulary and database blobs first, then a manifest
// blob describing them, and finally the CURRENT pointer naming that
// manifest. Replacing CURRENT is the commit point: readers that follow it
// always see a complete run, and a run that fails earlier leaves the
// previous one in place.
//
// Manifests are JSON, encoded with a codec from the codec package. The
// codec name is stored in the manifest so older runs stay readable when
// the default changes.
package manifest
