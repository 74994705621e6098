package sshclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoAuth is returned by New when neither a key file nor an agent
// supplies credentials.
var ErrNoAuth = errors.New("no usable ssh key or agent")

// Client runs commands on satellites using key-based auth only. There is
// no password or keyboard-interactive method, so a node that rejects the
// key fails the handshake immediately instead of waiting on a prompt.
type Client struct {
	cfg     Config
	auth    []ssh.AuthMethod
	hostKey ssh.HostKeyCallback
	// agentConn is the $SSH_AUTH_SOCK connection, nil when the agent is unused.
	agentConn net.Conn
}

func New(cfg Config) (*Client, error) {
	signers, err := loadSigners(cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	var agentConn net.Conn
	if cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			agentConn, err = net.Dial("unix", sock)
			if err != nil {
				return nil, fmt.Errorf("dial ssh agent: %w", err)
			}
		}
	}

	if len(signers) == 0 && agentConn == nil {
		return nil, ErrNoAuth
	}

	hk, err := hostKeyCallback(cfg)
	if err != nil {
		if agentConn != nil {
			agentConn.Close()
		}
		return nil, err
	}

	c := &Client{cfg: cfg, hostKey: hk, agentConn: agentConn}
	// File keys and agent keys share one publickey method: the ssh client
	// never retries a method name it has already tried.
	c.auth = []ssh.AuthMethod{ssh.PublicKeysCallback(c.signers(signers))}
	return c, nil
}

func (c *Client) signers(file []ssh.Signer) func() ([]ssh.Signer, error) {
	if c.agentConn == nil {
		return func() ([]ssh.Signer, error) { return file, nil }
	}
	ag := agent.NewClient(c.agentConn)
	return func() ([]ssh.Signer, error) {
		fromAgent, err := ag.Signers()
		if err != nil {
			if len(file) > 0 {
				return file, nil
			}
			return nil, fmt.Errorf("ssh agent signers: %w", err)
		}
		return append(append([]ssh.Signer(nil), file...), fromAgent...), nil
	}
}

// Close releases the agent connection. Runs after Close can only use
// key files.
func (c *Client) Close() error {
	if c.agentConn == nil {
		return nil
	}
	return c.agentConn.Close()
}

// Run executes cmd on host as user and returns its combined output.
// A non-zero remote exit comes back as *ssh.ExitError along with the output.
func (c *Client) Run(ctx context.Context, host, user string, cmd Command) (string, error) {
	if user == "" {
		return "", fmt.Errorf("ssh user is empty")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(c.cfg.Port))

	sshCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            c.auth,
		HostKeyCallback: c.hostKey,
		Timeout:         c.cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	// The handshake has no timeout of its own; bound it, then lift the
	// deadline so long commands are governed by ctx alone.
	handshakeDeadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(handshakeDeadline) {
		handshakeDeadline = d
	}
	_ = conn.SetDeadline(handshakeDeadline)

	cconn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		return "", err
	}
	client := ssh.NewClient(cconn, chans, reqs)
	defer client.Close()

	_ = conn.SetDeadline(time.Time{})

	sess, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := sess.CombinedOutput(cmd.String())
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case r := <-done:
		return string(r.out), r.err
	}
}

func loadSigners(keyPath string) ([]ssh.Signer, error) {
	if keyPath != "" {
		s, err := readSigner(keyPath)
		if err != nil {
			return nil, err
		}
		return []ssh.Signer{s}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	var signers []ssh.Signer
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		s, err := readSigner(p)
		if err != nil {
			// Passphrase-protected default keys are left to the agent.
			continue
		}
		signers = append(signers, s)
	}
	return signers, nil
}

func readSigner(path string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	s, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", path, err)
	}
	return s, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureSkipHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}
