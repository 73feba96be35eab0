// Package bundle contains the data model shared by the pipeline stages:
// downloaded artifacts, extracted trees, file sets, the bundle plan, the
// assembled bundles and their packaged and published forms.
//
// Values are produced by one stage and only read by later stages; helpers in
// this package return new values instead of mutating their inputs.
package bundle
