package interfaces

// Principal is the resolved identity behind a verified token
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Guest bool   `json:"guest"`
}

// TokenVerifier validates client tokens for the realtime layer.
// Verification failures degrade to a guest principal at the broadcaster,
// not here.
type TokenVerifier interface {
	Verify(token string) (*Principal, error)
}
