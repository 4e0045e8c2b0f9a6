// Package storage keeps generated images in S3 or an S3-compatible bucket.
//
// Every image is stored under the owner's prefix together with a JPEG
// thumbnail:
//
//	images/<user id>/<image id>.<ext>
//	thumbs/<user id>/<image id>.jpg
//
// DeleteUser removes both prefixes when an account is deleted. Errors from
// the AWS SDK are classified into the sentinel errors of this package.
package storage
