package build

// Version of gocomet. Set to tag in CI during release.
var Version = "0.0.0"
