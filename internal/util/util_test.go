package util

import (
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
		{5 * 1024 * 1024 * 1024, " 5.0 GiB"},
	}
	for _, tt := range tests {
		got := formatBytes(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Len(t, got, 8)
	}
}

func TestFormatStats(t *testing.T) {
	got := formatStats(1536, 0, 30, 1200)
	assert.Equal(t, "Out:  1.5 KiB/s | In:  0.0   B/s | Samples:   30↑ | RTP:  1200↓", got)
}

func TestStatsCounters(t *testing.T) {
	s := &stats{}
	s.AddSample(100)
	s.AddSample(50)
	s.AddPacket(1200)

	assert.Equal(t, int64(2), s.SamplesSent.Load())
	assert.Equal(t, int64(150), s.BytesSent.Load())
	assert.Equal(t, int64(1), s.PacketsRecv.Load())
	assert.Equal(t, int64(1200), s.BytesRecv.Load())
}

func TestPionLoggerFactory(t *testing.T) {
	var f logging.LoggerFactory = NewPionLoggerFactory()
	l := f.NewLogger("ice")

	p, ok := l.(*pionLogger)
	assert.True(t, ok)
	assert.Equal(t, "[pion/ice] gathering done", p.line("gathering done"))

	// Every level must be callable without a configured output.
	l.Tracef("%d", 1)
	l.Debugf("%d", 2)
	l.Infof("%d", 3)
	l.Warnf("%d", 4)
	l.Errorf("%d", 5)
}
