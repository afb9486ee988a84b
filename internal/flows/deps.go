package flows

// Deps groups flow dependency sets. The root Service builds this once and
// delegates request methods to the matching flow.
type Deps struct {
	Refresh RefreshDeps
	Logout  LogoutDeps
}
