// Package output renders farmsync CLI results.
//
// Results are written as an aligned table by default, or as JSON or YAML
// for scripting. Types that know their own columns implement Tabular;
// other structs are shown as a FIELD/VALUE listing named by their json
// tags, which YAML output follows as well. Spinner and ProgressBar draw on
// stderr during long operations.
package output
