package logging

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestTeeHandlerCollapsesNilAndSingle(t *testing.T) {
	if got := TeeHandler(nil, nil); got != slog.DiscardHandler {
		t.Fatalf("expected discard handler when every handler is nil, got %T", got)
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if got := TeeHandler(nil, inner); got != inner {
		t.Fatalf("expected lone handler to be returned unwrapped, got %T", got)
	}
}

func TestTeeHandlerRoutesByLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoHandler := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(TeeHandler(infoHandler, debugHandler))
	logger.Debug("lease probe")

	if infoBuf.Len() != 0 {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if debugBuf.Len() == 0 {
		t.Fatal("debug handler missed debug record")
	}

	logger.With(slog.String(FieldTarget, "echo")).Info("task completed")
	for name, buf := range map[string]*bytes.Buffer{"info": &infoBuf, "debug": &debugBuf} {
		if !bytes.Contains(buf.Bytes(), []byte(`"target":"echo"`)) {
			t.Fatalf("%s handler missing attribute: %s", name, buf.String())
		}
	}
}
