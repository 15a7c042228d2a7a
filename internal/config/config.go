// Package config holds the CLI configuration types.
package config

// Role represents the user's chosen transfer role.
type Role string

const (
	RoleSend    Role = "send"
	RoleReceive Role = "receive"
)

// DefaultServer is the public rendezvous host used when --server is not given.
const DefaultServer = "0.peerjs.com"

// Config stores all parameters gathered from the CLI.
type Config struct {
	Role       Role
	ServerHost string // rendezvous server host
	OutputDir  string // receive: directory to save into
	Verbose    bool
}

// Default returns a Config with the stock server and output directory.
func Default() Config {
	return Config{
		ServerHost: DefaultServer,
		OutputDir:  ".",
	}
}
