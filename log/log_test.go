package log

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewDefaultsToStderr(t *testing.T) {
	l := New(Info, nil)
	l.Info("hello", "key", "value")
	if err := l.Sync(); err != nil {
		// stderr sync commonly errors on some platforms (e.g. "invalid
		// argument"); only fail on something unexpected.
		t.Logf("sync: %v", err)
	}
}

func TestSetLevelGatesDebug(t *testing.T) {
	l := New(Warning, nil)
	if l.level.Enabled(zapcore.DebugLevel) {
		t.Error("debug should be gated at Warning level")
	}
	l.Debug("should be gated")
	l.Warning("should pass")
	l.SetLevel(Debug)
	if !l.level.Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled after SetLevel(Debug)")
	}
	l.Debug("should now pass")
}

func TestFileConfigRotation(t *testing.T) {
	dir := t.TempDir()
	l := New(Debug, &FileConfig{Filename: dir + "/vidformer.log", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	l.Info("to file", "n", 1)
	if err := l.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestLoggerInterfaceSatisfied(t *testing.T) {
	var _ Logger = New(Info, nil)
}
