package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env, level string
		want       zapcore.Level
		wantErr    bool
	}{
		{env: "prod", want: zapcore.InfoLevel},
		{env: "local", want: zapcore.DebugLevel},
		{env: "prod", level: "warn", want: zapcore.WarnLevel},
		{env: "staging", wantErr: true},
		{env: "dev", level: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			l, err := New(tt.env, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !l.Core().Enabled(tt.want) || (tt.want > zapcore.DebugLevel && l.Core().Enabled(tt.want-1)) {
				t.Errorf("level mismatch, want %s", tt.want)
			}
		})
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected a no-op logger")
	}
	l := zap.NewExample()
	if got := FromContext(WithContext(context.Background(), l)); got != l {
		t.Error("logger not returned from context")
	}
}
