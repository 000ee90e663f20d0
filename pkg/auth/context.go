package auth

// Context describes the authenticated caller attached to a request
type Context struct {
	UserID   int64
	Username string
	IsAdmin  bool
}
