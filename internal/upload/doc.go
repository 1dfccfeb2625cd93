// Package upload validates local images and pushes them to the backend input
// store.
//
// Each file moves through idle, validating, uploading and then succeeded or
// failed. Files whose declared type is outside the accepted image set fail
// locally without a network call. Several files upload in parallel up to the
// configured concurrency; every success triggers a full re-fetch of the input
// image list.
package upload
