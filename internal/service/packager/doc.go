// Package packager writes assembled bundles to disk as distributable archives.
//
// Every bundle becomes {dist}/{name}.tar.gz with its files under {name}/ and a
// {name}/bundle.yaml metadata document last. Archives are byte-for-byte
// reproducible: entries are sorted, timestamps are fixed and modes are
// normalized. A .sha256 sidecar and, when a signer is configured, an armored
// .asc signature are written next to each archive.
package packager
