//go:build unix

package transfer

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestNewCommandOwnProcessGroup(t *testing.T) {
	cmd := newCommand(context.Background(), "true")
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatal("transfer tools must run in their own process group")
	}
}

func TestExecRunnerLeavesForegroundGroup(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("no /proc")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh")
	}

	// Field 5 of /proc/<pid>/stat is the process group id.
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", `echo $$; cut -d' ' -f5 /proc/$$/stat`)
	if err != nil {
		t.Fatalf("run: %v: %s", err, out)
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		t.Fatalf("unexpected output %q", out)
	}
	if fields[0] != fields[1] {
		t.Errorf("child pid %s runs in group %s, want its own group", fields[0], fields[1])
	}
}
