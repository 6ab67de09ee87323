package launcher

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoreListRangesAndSingles(t *testing.T) {
	cores, err := ParseCoreList("0-2,5")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 5}, cores)
}

func TestParseCoreListAll(t *testing.T) {
	cores, err := ParseCoreList("all")
	require.NoError(t, err)
	assert.NotEmpty(t, cores)
}

func TestParseCoreListRejectsEmpty(t *testing.T) {
	_, err := ParseCoreList("  ")
	assert.Error(t, err)
}

func TestParseCoreListRejectsGarbage(t *testing.T) {
	_, err := ParseCoreList("x-y")
	assert.Error(t, err)
}

func TestCloseFDMaskBitsAreIndependent(t *testing.T) {
	// Bit 0 closes stdout only, bit 1 closes stderr only; both set closes
	// both. This is the corrected semantics (the reference runtime's
	// destroy_output_fds bug conflated the two), so each bit is checked in
	// isolation here.
	assert.NotEqual(t, CloseStdout, CloseStderr)
	mask := CloseStdout | CloseStderr
	assert.NotZero(t, mask&CloseStdout)
	assert.NotZero(t, mask&CloseStderr)
}

func TestLauncherRunOnceReportsExitCode(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("no /usr/bin/false on this system")
	}
	l := New([]int{0}, Spec{Program: "false"})
	code, err := l.runOnce(0)
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
}

func TestLauncherRunOnceSucceedsOnTrue(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("no /usr/bin/true on this system")
	}
	l := New([]int{0}, Spec{Program: "true"})
	code, err := l.runOnce(0)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}
