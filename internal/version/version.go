package version

// Version is the current version of ssm.
// Use semantic versioning: MAJOR.MINOR.PATCH
const Version = "0.9.0"
