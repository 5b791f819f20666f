package version

// Current is the release version, without a leading "v". Overridden at build time with
// -ldflags "-X github.com/eloisaabril01/emailscrap/internal/version.Current=...".
var Current = "0.3.0"

// Commit is the source revision, set at build time.
var Commit = "dev"

// String renders the version line printed by the CLI.
func String() string {
	return "emailscrap " + Current + " (" + Commit + ")"
}
