package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHCommunicator implements Communicator using the SSH protocol against a
// node's remote login endpoint.
type SSHCommunicator struct {
	host       string
	port       int
	user       string
	privateKey []byte
	password   string
}

// NewSSHCommunicator creates a communicator authenticating with a private
// key.
func NewSSHCommunicator(host string, port int, user string, privateKey []byte) *SSHCommunicator {
	return &SSHCommunicator{
		host:       host,
		port:       port,
		user:       user,
		privateKey: privateKey,
	}
}

// NewPasswordCommunicator creates a communicator authenticating with a
// password.
func NewPasswordCommunicator(host string, port int, user, password string) *SSHCommunicator {
	return &SSHCommunicator{
		host:     host,
		port:     port,
		user:     user,
		password: password,
	}
}

func (c *SSHCommunicator) Execute(ctx context.Context, command string) (string, error) {
	var auth []ssh.AuthMethod
	if len(c.privateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.privateKey)
		if err != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.password != "" {
		auth = append(auth, ssh.Password(c.password))
	}

	config := &ssh.ClientConfig{
		User:            c.user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Node endpoints are ephemeral; no known_hosts to pin against
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	var client *ssh.Client
	var err error
	// Simple retry logic; nodes may still be finishing boot
	for i := 0; i < 10; i++ {
		client, err = ssh.Dial("tcp", addr, config)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			continue
		}
	}
	if client == nil {
		return "", fmt.Errorf("failed to dial ssh: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(command)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return string(output), fmt.Errorf("command exited with status %d: %s", exitErr.ExitStatus(), output)
		}
		return string(output), fmt.Errorf("failed to execute command: %w, output: %s", err, output)
	}

	return string(output), nil
}
