package sshclient

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// cmdSleep blocks on the test server until the client signals or hangs up.
var cmdSleep = Command{kind: "sleep", line: "sleep"}

type testServer struct {
	host    string
	port    int
	hostPub ssh.PublicKey
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func writeKeyFile(t *testing.T, priv ed25519.PrivateKey) string {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func publicKey(t *testing.T, priv ed25519.PrivateKey) ssh.PublicKey {
	t.Helper()
	pub, err := ssh.NewPublicKey(priv.Public())
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

// startServer serves sessions on 127.0.0.1 for clients presenting authorized.
func startServer(t *testing.T, authorized ssh.PublicKey) *testServer {
	t.Helper()

	hostSigner, err := ssh.NewSignerFromKey(newKey(t))
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()

	return &testServer{
		host:    "127.0.0.1",
		port:    ln.Addr().(*net.TCPAddr).Port,
		hostPub: hostSigner.PublicKey(),
	}
}

func (s *testServer) addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

func (s *testServer) knownHosts(t *testing.T, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(s.addr())}, key) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			return
		}
		go serveSession(ch, creqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		switch payload.Command {
		case CmdProbe().String():
			io.WriteString(ch, ProbeReply+"\n")
			exitStatus(ch, 0)
		case cmdSleep.String():
			for r := range reqs {
				if r.Type == "signal" {
					exitStatus(ch, 137)
					return
				}
			}
		default:
			io.WriteString(ch.Stderr(), "sh: "+payload.Command+": not found\n")
			exitStatus(ch, 127)
		}
		return
	}
}

func exitStatus(ch ssh.Channel, code uint32) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
}

func TestRunEchoConnected(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	key := newKey(t)
	srv := startServer(t, publicKey(t, key))

	c, err := New(Config{
		Timeout:        2 * time.Second,
		Port:           srv.port,
		KeyPath:        writeKeyFile(t, key),
		KnownHostsPath: srv.knownHosts(t, srv.hostPub),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	out, err := c.Run(context.Background(), srv.host, "root", CmdProbe())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out) != ProbeReply {
		t.Errorf("output = %q, want %q", out, ProbeReply)
	}
}

func TestRunRemoteExitStatus(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	key := newKey(t)
	srv := startServer(t, publicKey(t, key))

	c, err := New(Config{Timeout: 2 * time.Second, Port: srv.port, KeyPath: writeKeyFile(t, key), InsecureSkipHostKey: true})
	if err != nil {
		t.Fatal(err)
	}

	out, err := c.Run(context.Background(), srv.host, "root", CmdMkdir("/storage/x"))
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ssh.ExitError", err)
	}
	if exitErr.ExitStatus() != 127 {
		t.Errorf("exit status = %d, want 127", exitErr.ExitStatus())
	}
	if !strings.Contains(out, "not found") {
		t.Errorf("stderr not returned with output: %q", out)
	}
}

func TestRunKeyRejectedFailsFast(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := startServer(t, publicKey(t, newKey(t)))

	timeout := 5 * time.Second
	c, err := New(Config{Timeout: timeout, Port: srv.port, KeyPath: writeKeyFile(t, newKey(t)), InsecureSkipHostKey: true})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := c.Run(context.Background(), srv.host, "root", CmdProbe()); err == nil {
		t.Fatal("expected auth failure")
	}
	if took := time.Since(start); took > timeout/2 {
		t.Errorf("rejected key took %v, want well under the %v timeout", took, timeout)
	}
}

func TestRunHostKeyMismatch(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	key := newKey(t)
	srv := startServer(t, publicKey(t, key))

	c, err := New(Config{
		Timeout:        2 * time.Second,
		Port:           srv.port,
		KeyPath:        writeKeyFile(t, key),
		KnownHostsPath: srv.knownHosts(t, publicKey(t, newKey(t))),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Run(context.Background(), srv.host, "root", CmdProbe())
	if err == nil || !strings.Contains(err.Error(), "key mismatch") {
		t.Errorf("err = %v, want known_hosts key mismatch", err)
	}
}

func TestRunSilentListenerTimesOut(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// Never accepted: the kernel completes the TCP handshake and nothing
	// ever sends an ssh banner.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	timeout := 300 * time.Millisecond
	c, err := New(Config{
		Timeout:             timeout,
		Port:                ln.Addr().(*net.TCPAddr).Port,
		KeyPath:             writeKeyFile(t, newKey(t)),
		InsecureSkipHostKey: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := c.Run(context.Background(), "127.0.0.1", "root", CmdProbe()); err == nil {
		t.Fatal("expected handshake timeout")
	}
	if took := time.Since(start); took > 10*timeout {
		t.Errorf("silent listener took %v, want about %v", took, timeout)
	}
}

func TestRunCancelMidCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	key := newKey(t)
	srv := startServer(t, publicKey(t, key))

	c, err := New(Config{Timeout: 2 * time.Second, Port: srv.port, KeyPath: writeKeyFile(t, key), InsecureSkipHostKey: true})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Run(ctx, srv.host, "root", cmdSleep)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("cancel took %v", took)
	}
}

// startAgent serves an in-memory keyring holding priv on a fresh socket
// and points SSH_AUTH_SOCK at it.
func startAgent(t *testing.T, priv ed25519.PrivateKey) {
	t.Helper()
	kr := agent.NewKeyring()
	if err := kr.Add(agent.AddedKey{PrivateKey: priv}); err != nil {
		t.Fatal(err)
	}

	// Unix socket paths are length-limited; keep this one short.
	dir, err := os.MkdirTemp("", "ag")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s")

	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				agent.ServeAgent(kr, conn)
			}()
		}
	}()

	t.Setenv("SSH_AUTH_SOCK", sock)
}

func TestAgentKeysAfterRejectedFileKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	agentKey := newKey(t)
	srv := startServer(t, publicKey(t, agentKey))
	startAgent(t, agentKey)

	c, err := New(Config{
		Timeout:             2 * time.Second,
		Port:                srv.port,
		KeyPath:             writeKeyFile(t, newKey(t)),
		UseAgent:            true,
		InsecureSkipHostKey: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Run(context.Background(), srv.host, "root", CmdProbe()); err != nil {
		t.Fatalf("agent key not offered after the file key was rejected: %v", err)
	}
}

func TestCloseReleasesAgent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	key := newKey(t)
	srv := startServer(t, publicKey(t, key))
	startAgent(t, key)

	c, err := New(Config{Timeout: 2 * time.Second, Port: srv.port, UseAgent: true, InsecureSkipHostKey: true})
	if err != nil {
		t.Fatalf("New with agent only: %v", err)
	}
	if _, err := c.Run(context.Background(), srv.host, "root", CmdProbe()); err != nil {
		t.Fatalf("Run via agent: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Run(context.Background(), srv.host, "root", CmdProbe()); err == nil {
		t.Error("Run after Close still authenticated through the agent")
	}
}

func TestNewNoAuth(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")
	if _, err := New(Config{UseAgent: true, InsecureSkipHostKey: true}); !errors.Is(err, ErrNoAuth) {
		t.Errorf("err = %v, want ErrNoAuth", err)
	}
}
