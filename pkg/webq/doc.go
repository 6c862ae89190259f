// Package webq stores the XML files of a web questionnaire system and the
// owners they belong to.
//
// Files come in two kinds: user files, uploaded by and scoped to a single user,
// and project files, shared form templates and instances kept in a project
// folder. Both are served by the same generic FileStore, parameterised by the
// owner key type, so every lookup, update and removal is checked against the
// owner that asked for it. A file that belongs to someone else looks exactly
// like a file that does not exist.
//
// Content is lazy. Listings return metadata only; the body is fetched on
// demand while the Session that produced the record is open, or loaded eagerly
// by FileContentBy. Bodies live either inside the record store (large objects,
// blob tables, memory) or in an external BlobStore (filesystem, S3); a unit of
// work keeps both consistent on commit and rollback.
//
// The Projects and Users registries issue the owner keys. Conversions are
// delegated to a Converter, normally the dispatcher in the convert subpackage.
// Record stores live under repo/, body stores under storage/.
package webq
