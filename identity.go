package migrator

import "fmt"

// Credentials are the username and password a connection is opened with.
type Credentials struct {
	Username string
	Password string
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{username=%s}", c.Username)
}

// Identity selects which credentials a migration connects with: the application's
// own (App) or an administrative user supplied at invocation time (Admin).
type Identity struct {
	admin    bool
	username string
	password string
}

// AppIdentity connects with the namespace's configured username and password.
func AppIdentity() Identity {
	return Identity{}
}

// AdminIdentity connects with the given administrative credentials.
func AdminIdentity(username, password string) Identity {
	return Identity{admin: true, username: username, password: password}
}

// IdentityFrom returns AdminIdentity when username is non-empty, AppIdentity otherwise.
func IdentityFrom(username, password string) Identity {
	if username == "" {
		return AppIdentity()
	}
	return AdminIdentity(username, password)
}

// IsAdmin reports whether the identity carries administrative credentials.
func (i Identity) IsAdmin() bool {
	return i.admin
}

// Resolve returns the credentials to connect with for cfg.
func (i Identity) Resolve(cfg ConnectionConfig) Credentials {
	if i.admin {
		return Credentials{Username: i.username, Password: i.password}
	}
	return Credentials{Username: cfg.Username(), Password: cfg.Password()}
}

func (i Identity) String() string {
	if i.admin {
		return "admin(" + i.username + ")"
	}
	return "app"
}
