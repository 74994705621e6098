package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options carry the ssh trust settings handed to rsync and scp so they use
// the same non-interactive channel as remote commands.
type Options struct {
	Port                int
	ConnectTimeout      time.Duration
	KeyPath             string
	KnownHostsPath      string
	InsecureSkipHostKey bool
}

// Destination is user@host:path. An empty Host is a local path.
type Destination struct {
	User string
	Host string
	Path string
}

func (d Destination) String() string {
	if d.Host == "" {
		return d.Path
	}
	host := d.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if d.User != "" {
		host = d.User + "@" + host
	}
	return host + ":" + d.Path
}

func (d Destination) remote() bool { return d.Host != "" }

// dir renders the destination with a trailing slash so both tools treat it
// as a directory.
func (d Destination) dir() string {
	s := d.String()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// Error is a failed tool invocation with its raw output.
type Error struct {
	Tool   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Output)
}

func (e *Error) Unwrap() error { return e.Err }

type Copier struct {
	exec Executor
	opts Options
}

func NewCopier(ex Executor, opts Options) *Copier {
	if ex == nil {
		ex = ExecRunner{}
	}
	if opts.Port <= 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Copier{exec: ex, opts: opts}
}

// CopyTree puts the contents of srcDir into dst. Under Mirror the result
// matches srcDir exactly; under RecursiveCopy existing destination files not
// present in srcDir are left alone. dst must already exist for
// RecursiveCopy.
func (c *Copier) CopyTree(ctx context.Context, s Strategy, srcDir string, dst Destination) error {
	switch s {
	case Mirror:
		args := []string{"-az", "--delete"}
		args = append(args, c.rsyncShell(dst)...)
		args = append(args, strings.TrimSuffix(srcDir, "/")+"/", dst.dir())
		return c.run(ctx, MirrorTool, args)

	case RecursiveCopy:
		entries, err := os.ReadDir(srcDir)
		if err != nil {
			return &Error{Tool: CopyTool, Err: err}
		}
		if len(entries) == 0 {
			return nil
		}
		args := append([]string{"-r"}, c.scpOptions(dst)...)
		for _, e := range entries {
			args = append(args, filepath.Join(srcDir, e.Name()))
		}
		args = append(args, dst.dir())
		return c.run(ctx, CopyTool, args)
	}
	return fmt.Errorf("unknown transfer strategy %d", s)
}

// CopyFile puts srcFile into the directory dst, overwriting any file of the
// same name.
func (c *Copier) CopyFile(ctx context.Context, s Strategy, srcFile string, dst Destination) error {
	switch s {
	case Mirror:
		args := []string{"-az"}
		args = append(args, c.rsyncShell(dst)...)
		args = append(args, srcFile, dst.dir())
		return c.run(ctx, MirrorTool, args)

	case RecursiveCopy:
		args := append(c.scpOptions(dst), srcFile, dst.dir())
		return c.run(ctx, CopyTool, args)
	}
	return fmt.Errorf("unknown transfer strategy %d", s)
}

func (c *Copier) run(ctx context.Context, tool string, args []string) error {
	out, err := c.exec.Run(ctx, tool, args...)
	if err != nil {
		return &Error{Tool: tool, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return nil
}

func (c *Copier) sshOptions() []string {
	opts := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(c.opts.ConnectTimeout.Round(time.Second)/time.Second)),
	}
	if c.opts.KeyPath != "" {
		opts = append(opts, "-i", c.opts.KeyPath)
	}
	switch {
	case c.opts.InsecureSkipHostKey:
		opts = append(opts, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	case c.opts.KnownHostsPath != "":
		opts = append(opts, "-o", "UserKnownHostsFile="+c.opts.KnownHostsPath)
	}
	return opts
}

func (c *Copier) rsyncShell(dst Destination) []string {
	if !dst.remote() {
		return nil
	}
	parts := append([]string{"ssh", "-p", strconv.Itoa(c.opts.Port)}, c.sshOptions()...)
	for i, p := range parts {
		if strings.ContainsAny(p, " \t'\"") {
			parts[i] = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
		}
	}
	return []string{"-e", strings.Join(parts, " ")}
}

func (c *Copier) scpOptions(dst Destination) []string {
	if !dst.remote() {
		return nil
	}
	return append([]string{"-P", strconv.Itoa(c.opts.Port)}, c.sshOptions()...)
}
