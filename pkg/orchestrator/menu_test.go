package orchestrator

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMenu(t *testing.T, svc *Service, input string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, NewMenu(svc, strings.NewReader(input), &out).Run(context.Background()))
	return out.String()
}

func TestMenuStartPairAndList(t *testing.T) {
	svc := newTestService(t)

	out := runMenu(t, svc, "1\n2\n1\n3\n6\n7\n")

	assert.Contains(t, out, "Started ECG belt")
	assert.Contains(t, out, "Started BP/SpO2")
	assert.Contains(t, out, "Started lonely BP/SpO2")
	assert.Contains(t, out, "Lonely BP/SpO2")
	assert.Len(t, svc.PairedECG(), 1)
	assert.Len(t, svc.List(), 3)
}

func TestMenuCancelAndInvalidInput(t *testing.T) {
	svc := newTestService(t)

	out := runMenu(t, svc, "9\nabc\n2\n1\n5\n0\n7\n")

	assert.Equal(t, 2, strings.Count(out, "Invalid choice"))
	assert.Contains(t, out, "No unmonitored ECG belts are running.")
	assert.Contains(t, out, "Started ECG belt")
	assert.Contains(t, out, "Cancelled.")
	assert.Len(t, svc.List(), 1)
}

func TestMenuStopAndEOF(t *testing.T) {
	svc := newTestService(t)

	out := runMenu(t, svc, "3\n5\n1\n6")

	assert.Contains(t, out, "Stopped SIM-LEPU-")
	assert.Contains(t, out, "No streams are running.")
	assert.Empty(t, svc.List())
}

func TestMenuStopsOnCancelledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMenu(svc, strings.NewReader("1\n"), &bytes.Buffer{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, svc.List())
}
