// Package simpleupload provides a reusable library for ingesting uploaded
// files into a temporary area and promoting complete variant sets (an
// original plus pre-generated transforms such as thumbnails) into durable
// storage when the owning record is saved.
//
// The package defines the domain types, the BlobStore and Record interfaces,
// the error taxonomy, and a small record Service that fires lifecycle hooks.
// The moving parts live in subpackages: validate (content-type policy),
// variant (required variant set), stage (temp staging), commit (promotion
// state machine and record lifecycle behavior), storage (memory, fs, s3,
// minio, breaker), publish (URL generation), api (HTTP handlers) and config.
//
// Naming
//
// Every variant of one upload group shares the same base filename. In temp
// storage a staged file is stored as "<variant>!_!<base>" (flat layout) or
// "<variant>/<base>" (directory layout). In durable storage the original
// variant lives at "<root>/<filename>" and every other variant at
// "<root>/<variant>/<filename>", where filename is the value persisted on the
// owning record.
package simpleupload
