package webassets

import _ "embed"

// LoginPage is the login entry point served at /login.
//
//go:embed login.html
var LoginPage []byte
