package stepper

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/stepctl/pkg/cli/sh"
	"github.com/robotalks/stepctl/pkg/l0/firmware"
	"github.com/robotalks/stepctl/pkg/l1/env"
)

func newTestShell(t *testing.T) (*sh.Shell, *firmware.Board) {
	local, peer := net.Pipe()
	cfg := firmware.NewConfig()
	require.NoError(t, cfg.Validate())
	board := firmware.NewBoard(*cfg, local)
	ctx, cancel := context.WithCancel(context.Background())
	go board.Run(ctx)

	s := &sh.Shell{Config: env.NewConfig(), CommandTimeout: 2 * time.Second}
	s.Config.ByteOrder = ""
	s.Config.RecordFile = ""
	require.NoError(t, s.ConnectOn("sim", peer, false))
	t.Cleanup(func() {
		s.Disconnect()
		cancel()
		local.Close()
	})
	require.Eventually(t, s.Loop.Conn.Connected, 3*time.Second, 5*time.Millisecond)
	return s, board
}

func TestParseMask(t *testing.T) {
	testCases := []struct {
		in   string
		mask byte
		ok   bool
	}{
		{"1", 0x01, true},
		{"0x06", 0x06, true},
		{"all", MaskAll, true},
		{"0", 0, false},
		{"256", 0, false},
		{"x", 0, false},
	}
	for _, tc := range testCases {
		mask, err := ParseMask(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.mask, mask)
	}
}

func TestArgErrors(t *testing.T) {
	s := &sh.Shell{Config: env.NewConfig()}
	_, err := Rotate(s, []string{"1", "90"})
	require.Error(t, err)

	_, _, err = parseMaskValue([]string{"1"}, "DEG")
	require.Error(t, err)
	_, _, err = parseMaskValue([]string{"1", "far"}, "DEG")
	require.Error(t, err)
	_, err = Stop(s, nil)
	require.Error(t, err)
	_, err = LED(s, []string{"1", "2"})
	require.Error(t, err)
	_, err = LED(s, []string{"1", "2", "300"})
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	s, board := newTestShell(t)

	res, err := Speed(s, []string{"3", "720"})
	require.NoError(t, err)
	require.Nil(t, res)
	_, err = Rotate(s, []string{"1", "90"})
	require.NoError(t, err)
	_, err = Abs(s, []string{"0x02", "-45"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return board.Axes[0].Angle() == 90 && board.Axes[1].Angle() == -45
	}, 3*time.Second, 10*time.Millisecond)

	_, err = Angle(s, []string{"1", "10"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return board.Axes[0].Angle() == 10
	}, time.Second, 10*time.Millisecond)

	_, err = LED(s, []string{"0", "0x80", "0"})
	require.NoError(t, err)
	r, g, b := board.LED.RGB()
	require.Equal(t, []bool{false, true, false}, []bool{r, g, b})

	require.Eventually(t, func() bool {
		res, err := State(s, nil)
		return err == nil && res.(StateResult).Axes[0].Angle == 10
	}, time.Second, 10*time.Millisecond)
	res, err = State(s, nil)
	require.NoError(t, err)
	st := res.(StateResult)
	require.True(t, st.Connected)
	require.Len(t, st.Axes, firmware.DefaultAxes)
	require.Contains(t, st.String(), "1: angle=10.000")

	_, err = Stop(s, []string{"all"})
	require.NoError(t, err)

	res, err = Stats(s, nil)
	require.NoError(t, err)
	require.Contains(t, res, "received=")
}
